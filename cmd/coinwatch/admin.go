package main

import (
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Proton-105/coinwatch/internal/repository"
	"github.com/Proton-105/coinwatch/internal/session"
	"github.com/Proton-105/coinwatch/internal/user"
	"github.com/Proton-105/coinwatch/internal/usercache"
)

const userCacheTTL = 5 * time.Minute

func newUserService(rt *runtime) *user.Service {
	log := rt.log()
	return user.NewService(
		repository.NewUserRepository(rt.db, log),
		session.NewStore(rt.redis, rt.cfg.Auth.SessionTTL, log),
		usercache.NewCache(rt.redis, userCacheTTL),
		rt.cfg.Auth,
		log,
	)
}

func grantAdmin(c *cli.Context) error {
	rt, err := bootstrap(c.Context, c)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.migrate(c.Context); err != nil {
		return err
	}

	u, err := newUserService(rt).GrantAdmin(c.Context, c.String("name"), c.String("password"))
	if err != nil {
		return err
	}

	rt.log().Info("admin granted", slog.Int64("user_id", u.ID), slog.String("name", u.Name))
	return nil
}
