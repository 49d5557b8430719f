package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	_ "net/http/pprof" // register the /debug/pprof handlers
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	echoapi "github.com/trezcool/mazoezi/apps/api/echo"
	"github.com/trezcool/mazoezi/core"
	"github.com/trezcool/mazoezi/core/project"
	"github.com/trezcool/mazoezi/core/user"
	emailsvc "github.com/trezcool/mazoezi/services/email"
	logsvc "github.com/trezcool/mazoezi/services/logger"
	"github.com/trezcool/mazoezi/storage/database"
	sqlxrepos "github.com/trezcool/mazoezi/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	std := log.New(os.Stdout, conf.AppName+" API : ", log.LstdFlags|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(std, conf)

	if err := run(conf, logger); err != nil {
		logger.Fatal("error running the app", err)
	}
}

func run(conf *core.Config, logger core.Logger) error {
	logger.Info("app starting; version " + conf.Build)
	defer logger.Info("app stopped")

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	// =========================================================================
	// start database

	if err := database.CreateIfNotExist(conf); err != nil {
		return errors.Wrap(err, "creating database")
	}

	db, err := database.Open(conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() {
		logger.Info("closing database connection; host " + conf.Database.Host)
		_ = db.Close()
	}()

	if err = database.Migrate(db); err != nil {
		return errors.Wrap(err, "applying migrations")
	}

	xdb := sqlx.NewDb(db, conf.Database.Engine)
	usrRepo := sqlxrepos.NewUserRepository(xdb)
	projRepo := sqlxrepos.NewProjectRepository(xdb)

	// =========================================================================
	// start services

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	usrSvc := user.NewService(usrRepo)
	projSvc := project.NewService(projRepo, usrRepo, mailSvc, conf)

	// =========================================================================
	// start debug server

	go func() {
		logger.Info("debug server listening on " + conf.Server.DebugAddr)
		err := http.ListenAndServe(conf.Server.DebugAddr, http.DefaultServeMux)
		logger.Error("debug server closed", err)
	}()

	// =========================================================================
	// start API server

	app := echoapi.NewServer(&echoapi.Options{
		Addr:       conf.Server.Addr,
		Conf:       conf,
		Logger:     logger,
		UserSvc:    usrSvc,
		ProjectSvc: projSvc,
	})
	app.Start()
	logger.Info("API server listening on " + conf.Server.Addr)

	// =========================================================================
	// shutdown

	select {
	case err := <-app.Errors():
		return errors.Wrap(err, "server error")

	case sig := <-app.ShutdownSignal():
		logger.Info("shutdown started; signal " + sig.String())
		defer logger.Info("shutdown complete")

		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		if err := app.Shutdown(ctx); err != nil {
			_ = app.Close()
			return errors.Wrap(err, "could not stop server gracefully")
		}
	}
	return nil
}
