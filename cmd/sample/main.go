// Command sample demonstrates the github.com/bjaus/bind engine with a small
// users API.
//
// Run:
//
//	go run ./cmd/sample
//
// Then explore:
//
//	GET    http://localhost:8080/v1/users?page=1&limit=10
//	POST   http://localhost:8080/v1/users
//	GET    http://localhost:8080/v1/users/{id}
//	DELETE http://localhost:8080/v1/users/{id}
//	POST   http://localhost:8080/v1/users/{id}/notes     (multipart upload)
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bjaus/bind"
)

type user struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Email   string    `json:"email"`
	Created time.Time `json:"created"`
}

type store struct {
	mu    sync.RWMutex
	users map[string]user
}

func newStore() *store {
	return &store{users: make(map[string]user)}
}

type listReq struct {
	Page  int    `query:"page" default:"1" minimum:"1"`
	Limit int    `query:"limit" default:"20" minimum:"1" maximum:"100"`
	Sort  string `query:"sort" default:"name" enum:"name,email,created"`
}

type listResp struct {
	Users []user `json:"users"`
	Page  int    `json:"page"`
}

type createReq struct {
	Host string `header:"Host"`
	Body struct {
		Name  string `json:"name" minLength:"1" maxLength:"100"`
		Email string `json:"email" pattern:"^[^@]+@[^@]+$"`
	} `body:"json"`
}

type getReq struct {
	ID string `path:"id"`
}

type notesReq struct {
	ID    string         `path:"id"`
	Parts map[string]any `body:"multipart,fold"`
}

type notesResp struct {
	Count int `json:"count"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := bind.ConfigFromEnv()
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	db := newStore()
	mux := http.NewServeMux()

	mux.Handle("GET /v1/users", bind.NewController(
		func(_ context.Context, req *listReq) (*listResp, error) {
			db.mu.RLock()
			defer db.mu.RUnlock()
			users := make([]user, 0, len(db.users))
			for _, u := range db.users {
				users = append(users, u)
			}
			sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
			return &listResp{Users: users, Page: req.Page}, nil
		},
		bind.WithConfig(cfg), bind.WithLogger(logger),
	))

	mux.Handle("POST /v1/users", bind.NewController(
		func(_ context.Context, req *createReq) (*user, error) {
			u := user{
				ID:      uuid.NewString(),
				Name:    req.Body.Name,
				Email:   req.Body.Email,
				Created: time.Now().UTC(),
			}
			db.mu.Lock()
			db.users[u.ID] = u
			db.mu.Unlock()
			return &u, nil
		},
		bind.WithConfig(cfg), bind.WithLogger(logger), bind.WithStatus(http.StatusCreated),
	))

	mux.Handle("GET /v1/users/{id}", bind.NewController(
		func(_ context.Context, req *getReq) (*user, error) {
			db.mu.RLock()
			u, ok := db.users[req.ID]
			db.mu.RUnlock()
			if !ok {
				return nil, bind.Error(http.StatusNotFound, "user not found")
			}
			return &u, nil
		},
		bind.WithConfig(cfg), bind.WithLogger(logger),
	))

	mux.Handle("DELETE /v1/users/{id}", bind.NewController(
		func(_ context.Context, req *getReq) (*struct{}, error) {
			db.mu.Lock()
			delete(db.users, req.ID)
			db.mu.Unlock()
			return nil, nil
		},
		bind.WithConfig(cfg), bind.WithLogger(logger),
	))

	mux.Handle("POST /v1/users/{id}/notes", bind.NewController(
		func(_ context.Context, req *notesReq) (*notesResp, error) {
			return &notesResp{Count: len(req.Parts)}, nil
		},
		bind.WithConfig(cfg), bind.WithLogger(logger),
	))

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	//nolint:errcheck // best-effort shutdown
	srv.Shutdown(shutdownCtx)
}
