package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"leaderboard-system/internal/broadcast"
	"leaderboard-system/internal/config"
	"leaderboard-system/internal/db"
	"leaderboard-system/internal/models"
	"leaderboard-system/internal/observability"
	"leaderboard-system/internal/ranking"
	"leaderboard-system/internal/services"
	"leaderboard-system/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

// admin holds the connections shared by every command.
type admin struct {
	cfg         *config.Config
	logger      zerolog.Logger
	mongodb     *db.MongoDB
	redis       *redis.Client
	cache       ranking.Store
	runs        *store.RunStore
	players     *store.PlayerStore
	snapshots   *store.SnapshotStore
	leaderboard *services.LeaderboardService
}

func main() {
	logger := observability.NewLogger("admin")
	if err := config.LoadDotEnv(); err != nil {
		logger.Fatal().Err(err).Msg("failed to read .env")
	}
	a := &admin{logger: logger}

	cliApp := &cli.App{
		Name:  "leaderboard-admin",
		Usage: "maintenance tasks for the leaderboard database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Usage:   "configuration environment",
				Value:   config.GetEnv(),
				EnvVars: []string{"LEADERBOARD_ENV"},
			},
		},
		Before: a.connect,
		After:  a.close,
		Commands: []*cli.Command{
			a.rotateCommand(),
			a.snapshotCommand(),
			a.leaderboardCommand(),
			a.clearCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		logger.Fatal().Err(err).Msg("admin command failed")
	}
}

func (a *admin) connect(c *cli.Context) error {
	cfg, err := config.Load(c.String("env"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg

	a.mongodb, err = db.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database, db.MongoOptions{}, a.logger)
	if err != nil {
		return err
	}

	a.cache = ranking.NewMemoryStore()
	if cfg.SharedCache() {
		a.redis, err = db.NewRedis(c.Context, db.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		a.cache = ranking.NewRedisStore(a.redis)
	}

	a.runs = store.NewRunStore(a.mongodb.Runs())
	a.players = store.NewPlayerStore(a.mongodb.Players())
	a.snapshots = store.NewSnapshotStore(a.mongodb.DailyLeaderboards())
	a.leaderboard = services.NewLeaderboardService(a.runs, a.cache, broadcast.Discard{}, cfg.Leaderboard.TopN, a.logger, nil, nil)
	return nil
}

func (a *admin) close(*cli.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.redis != nil {
		a.redis.Close()
	}
	if a.mongodb != nil {
		return a.mongodb.Close(ctx)
	}
	return nil
}

var (
	dateFlag = &cli.StringFlag{
		Name:  "date",
		Usage: "UTC day as YYYY-MM-DD (default: today)",
	}
	regionFlag = &cli.StringFlag{Name: "region", Required: true}
	modeFlag   = &cli.StringFlag{Name: "mode", Required: true}
)

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return models.UTCDay(time.Now()), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *admin) rotateCommand() *cli.Command {
	return &cli.Command{
		Name:  "rotate",
		Usage: "snapshot and reset every partition now",
		Flags: []cli.Flag{dateFlag},
		Action: func(c *cli.Context) error {
			if !a.cfg.SharedCache() {
				return errors.New("rotation from the admin tool needs the redis cache backend")
			}
			day, err := parseDay(c.String("date"))
			if err != nil {
				return err
			}

			scheduler := services.NewSnapshotScheduler(
				a.leaderboard,
				a.snapshots,
				store.NewLockStore(a.mongodb.CleanupLocks()),
				a.cfg.Rotation.LockTTL.Std(),
				nil,
				a.logger,
				nil,
			)
			result := scheduler.RunOnce(c.Context, day)
			if result.Locked {
				return errors.New("another instance holds the rotation lock")
			}
			fmt.Printf("Rotated %d, unchanged %d, failed %d partitions for %s\n",
				len(result.Rotated), len(result.Unchanged), len(result.Failed), result.Date.Format("2006-01-02"))
			if len(result.Failed) > 0 {
				return fmt.Errorf("%d partitions failed to rotate", len(result.Failed))
			}
			return nil
		},
	}
}

func (a *admin) snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "inspect daily snapshots",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "print one partition's snapshot",
				Flags: []cli.Flag{dateFlag, regionFlag, modeFlag},
				Action: func(c *cli.Context) error {
					day, err := parseDay(c.String("date"))
					if err != nil {
						return err
					}
					p, err := services.ParsePartition(c.String("region"), c.String("mode"))
					if err != nil {
						return err
					}
					snap, err := a.snapshots.Find(c.Context, day, p)
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("no snapshot for %s on %s", p, day.Format("2006-01-02"))
					}
					if err != nil {
						return err
					}
					return printJSON(snap)
				},
			},
			{
				Name:  "list",
				Usage: "list the partitions snapshotted on a day",
				Flags: []cli.Flag{dateFlag},
				Action: func(c *cli.Context) error {
					day, err := parseDay(c.String("date"))
					if err != nil {
						return err
					}
					snaps, err := a.snapshots.ListByDate(c.Context, day)
					if err != nil {
						return err
					}
					for _, s := range snaps {
						fmt.Printf("%s/%s\t%d runs\n", s.Region, s.Mode, len(s.TopRuns))
					}
					return nil
				},
			},
		},
	}
}

func (a *admin) leaderboardCommand() *cli.Command {
	return &cli.Command{
		Name:  "leaderboard",
		Usage: "print the live ranking of a partition",
		Flags: []cli.Flag{
			regionFlag,
			modeFlag,
			&cli.IntFlag{Name: "limit", Value: models.DefaultLimit},
		},
		Action: func(c *cli.Context) error {
			p, err := services.ParsePartition(c.String("region"), c.String("mode"))
			if err != nil {
				return err
			}
			top, err := a.leaderboard.FetchTop(c.Context, p, c.Int("limit"))
			if err != nil {
				return err
			}
			return printJSON(models.LeaderboardUpdate{Region: p.Region, Mode: p.Mode, TopRuns: top})
		},
	}
}

func (a *admin) clearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "delete all runs and players and reset the live rankings",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Usage: "confirm deletion"},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("yes") {
				return errors.New("refusing to clear without --yes")
			}

			runs, err := a.runs.DeleteAll(c.Context)
			if err != nil {
				return fmt.Errorf("failed to delete runs: %w", err)
			}
			fmt.Printf("Deleted %d runs\n", runs)

			players, err := a.players.DeleteAll(c.Context)
			if err != nil {
				return fmt.Errorf("failed to delete players: %w", err)
			}
			fmt.Printf("Deleted %d players\n", players)

			for _, p := range models.AllPartitions() {
				if err := a.leaderboard.ClearPartition(c.Context, p); err != nil {
					return err
				}
			}

			fmt.Println("Database cleared successfully")
			return nil
		},
	}
}
