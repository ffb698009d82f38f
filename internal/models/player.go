package models

import "time"

type Player struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Region    Region    `json:"region" bson:"region"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}
