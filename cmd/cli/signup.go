package main

// Command: signup.go
//
// Drives one signup flow from a terminal against the configured backend, the
// same way the landing page does: follow, enter an email, submit.
//
// Usage:
//   go run ./cmd/cli signup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/akeren/waitlist-gate/config"
	"github.com/akeren/waitlist-gate/domain"
	"github.com/akeren/waitlist-gate/domain/signup"
	"github.com/akeren/waitlist-gate/domain/waitlist"
	"github.com/akeren/waitlist-gate/internal/log"
	"github.com/akeren/waitlist-gate/pkg/cache"
	"github.com/google/uuid"
)

func RunSignup(logger *log.Logger, in io.Reader, out io.Writer) error {
	backendCfg, err := config.LoadBackendConfig()
	if err != nil {
		return err
	}
	signupCfg, err := config.LoadSignupConfig()
	if err != nil {
		return err
	}

	db, err := config.NewDatabase(logger, nil)
	if err != nil {
		return err
	}
	defer config.CloseDatabase(db, logger)

	mem := cache.NewMemoryCache()
	defer mem.Close()

	appConfig := &config.ApplicationConfig{
		DB:      db,
		Logger:  logger,
		Cache:   mem,
		Backend: backendCfg,
		Signup:  signupCfg,
	}

	b, err := domain.NewBackend(appConfig, waitlist.NewWaitlistServiceFactory(db, logger).CreateService(), nil)
	if err != nil {
		return err
	}

	flow := signup.NewFlow(uuid.NewString(), b, signup.Config{
		FollowURL: signupCfg.FollowURL,
		AllowList: signup.NewDomainAllowList(signupCfg.AllowedDomains),
	}, logger)
	defer flow.Close()

	return promptSignup(flow, bufio.NewScanner(in), out)
}

func promptSignup(flow *signup.Flow, scanner *bufio.Scanner, out io.Writer) error {
	ask := func(prompt string) string {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			return ""
		}
		return strings.TrimSpace(scanner.Text())
	}

	if answer := ask("Follow us first? [Y/n]: "); !strings.EqualFold(answer, "n") {
		followURL, err := flow.Follow()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Open %s to follow.\n", followURL)
	}

	email := ask("Email: ")
	handle := ask("Twitter handle (optional): ")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := flow.Submit(ctx, signup.Submission{
		Email:         email,
		TwitterHandle: handle,
		UserAgent:     "waitlist-gate-cli",
	})
	fmt.Fprintf(out, "[%s] %s: %s\n", n.Variant, n.Title, n.Description)

	var ve *signup.ValidationError
	var ce *signup.ConflictError
	if errors.As(err, &ve) || errors.As(err, &ce) {
		return nil
	}
	return err
}
