// Package main provides the query binary for inspecting stored tables,
// either one command per invocation or as an interactive shell.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pm25forecast/pm25forecast/internal/config"
	"github.com/pm25forecast/pm25forecast/internal/logging"
	"github.com/pm25forecast/pm25forecast/internal/storage"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, closer, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Dir:    cfg.Log.Dir,
	}, "query")
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closer.Close()

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.Database, log, nil)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	s := newSession(store, os.Stdout)
	if len(args) > 0 && args[0] != "shell" {
		_, err := s.exec(ctx, strings.Join(args, " "))
		return err
	}
	return shell(ctx, s, os.Stdin, os.Stdout)
}

// shell reads commands until EOF or quit. Command errors are printed and
// the shell continues.
func shell(ctx context.Context, s *session, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, `pm25 query shell, type "help" for commands`)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "pm25> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		quit, err := s.exec(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintln(out, "error:", err)
		}
		if quit {
			return nil
		}
	}
}
