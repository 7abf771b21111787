package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/jgneff/volano-sub000/internal/access"
	"github.com/jgneff/volano-sub000/internal/api"
	"github.com/jgneff/volano-sub000/internal/config"
	"github.com/jgneff/volano-sub000/internal/crypto"
	"github.com/jgneff/volano-sub000/internal/dispatch"
	"github.com/jgneff/volano-sub000/internal/room"
	"github.com/jgneff/volano-sub000/internal/server"
	"github.com/jgneff/volano-sub000/internal/store"
	"github.com/jgneff/volano-sub000/internal/transport"
)

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Ban table and access control
	bans := access.NewBanTable(access.Durations{
		Static:   cfg.BanStaticMinutes,
		Dynamic:  cfg.BanDynamicMinutes,
		Netblock: cfg.BanNetblockMinutes,
	}, cfg.BanNetblockMask, cfg.BanDynamicHosts, logger)
	bans.StartSweeper(cfg.BanSweepEvery)
	defer bans.Stop()

	ac, err := access.NewControl(access.Tables{
		HostsAllow:     cfg.HostsAllowFile,
		HostsDeny:      cfg.HostsDenyFile,
		ReferrersAllow: cfg.ReferrersAllowFile,
		ReferrersDeny:  cfg.ReferrersDenyFile,
	}, bans)
	if err != nil {
		logger.Fatal().Err(err).Msg("access table load failed")
	}

	// Member directory
	var members store.MemberDirectory
	if cfg.MemberDirectoryURL != "" {
		pg, err := store.NewPostgresDirectory(ctx, cfg.MemberDirectoryURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("member directory connection failed")
		}
		defer pg.Close()
		members = pg
		logger.Info().Msg("connected to member directory")
	}

	// Transcript store
	var transcript *store.TranscriptStore
	if cfg.TranscriptPath != "" {
		transcript, err = store.NewTranscriptStore(ctx, cfg.TranscriptPath, map[room.Kind]bool{
			room.Public:     cfg.TranscriptPublic,
			room.Personal:   cfg.TranscriptPersonal,
			room.Private:    cfg.TranscriptPrivate,
			room.Auditorium: cfg.TranscriptEvent,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("transcript store open failed")
		}
		defer transcript.Close()
		logger.Info().Str("path", cfg.TranscriptPath).Msg("transcript logging enabled")
	}

	// Registries
	rooms := room.NewRegistry(cfg.CaseInsensitive, logger)
	rooms.StartSweeper(cfg.RoomSweepEvery)
	defer rooms.Stop()

	limits := room.Limits{
		Capacity:   cfg.RoomCapacity,
		UserName:   cfg.UserNameLimit,
		RoomName:   cfg.RoomNameLimit,
		ChatText:   cfg.ChatTextLimit,
		Profile:    cfg.ProfileLimit,
		IgnoreCase: cfg.CaseInsensitive,
	}
	privates := room.NewPrivateRegistry(limits, logger)

	// Client-authentication key
	srvCtx := &server.Context{
		Cfg:        cfg,
		Logger:     logger,
		Limits:     limits,
		Rooms:      rooms,
		Privates:   privates,
		Access:     ac,
		Members:    members,
		Transcript: transcript,
	}
	if cfg.ClientAuthEnabled {
		key, err := crypto.ParsePublicKey(cfg.ClientAuthPublicKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("client auth public key invalid")
		}
		srvCtx.AuthKey = key
	}

	// Transport
	hub := transport.NewHub(logger, cfg.MaxConnections, cfg.FloodDelay, cfg.IdleTimeout, cfg.MaxPacketBytes)
	hub.OnConnect = func(c transport.Conn) {
		dispatch.Attach(srvCtx, c)
	}
	srvCtx.Hub = hub

	router := api.NewRouter(srvCtx, hub)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting chat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	hub.CloseAll(transport.StatusNormal, "server shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
