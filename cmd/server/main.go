package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatserver/internal/admin"
	"chatserver/internal/auth"
	"chatserver/internal/broadcast"
	"chatserver/internal/client"
	"chatserver/internal/config"
	"chatserver/internal/metrics"
	"chatserver/internal/room"
	"chatserver/internal/server"
	"chatserver/internal/store"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	m := metrics.New()

	rooms := room.NewRegistry(cfg.HistoryLimit, func(roomID string) {
		if err := st.DeleteRoom(roomID); err != nil {
			log.Printf("Failed to delete room %s: %v", roomID, err)
		}
		m.RemoveRoom(roomID)
	})
	go rooms.Run(ctx)

	sessions := client.NewRegistry()

	pipeline := broadcast.New(rooms, st, m)
	go pipeline.Run(ctx)

	srv := server.New(cfg.Addr(), sessions, rooms, st, pipeline, m)
	go func() {
		if err := srv.Start(ctx); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	var adminSrv *admin.Server
	if cfg.AdminPort != "" {
		var jwtService *auth.JWTService
		if cfg.AdminJWTSecret != "" {
			jwtService, err = auth.NewJWTService(cfg.AdminJWTSecret, 24*time.Hour)
			if err != nil {
				log.Fatalf("Failed to initialize admin auth: %v", err)
			}
		} else {
			log.Println("ADMIN_JWT_SECRET not set, admin API is unauthenticated")
		}

		adminSrv = admin.New(rooms, sessions, m, jwtService)
		go func() {
			if err := adminSrv.Start(":" + cfg.AdminPort); err != nil {
				log.Printf("Admin server stopped: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	cancel()

	if adminSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error during admin shutdown: %v", err)
		}
	}

	srv.Wait()
	log.Println("Server stopped")
}
