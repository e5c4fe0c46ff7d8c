package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/backend"
	"gatehouse.dev/internal/config"
	"gatehouse.dev/internal/migrate"
)

const usage = `usage: authctl [-dsn DSN] <command> [args]

commands:
  install                          create the users and sessions stores
  remove                           drop the most recently installed store
  reset                            drop every installed store
  status                           list stores and when they were installed
  add-role <name>                  create a role
  add-user <login> <password> [roles]
                                   create a user; roles are comma separated
  remove-user <login>              delete a user and end their sessions
  roles                            list roles
  purge                            delete expired sessions
  sessions                         count active sessions`

func main() {
	log.SetFlags(0)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	var (
		dsn     = flag.String("dsn", cfg.Postgres.DSN, "PostgreSQL DSN (default GATEHOUSE_PG_DSN)")
		timeout = flag.Duration("timeout", 30*time.Second, "overall command timeout")
	)
	flag.Usage = func() { fmt.Fprintln(flag.CommandLine.Output(), usage) }
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or GATEHOUSE_PG_DSN")
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cfg.Postgres.DSN = *dsn
	if cfg.Session.Backend == config.BackendMemory {
		cfg.Session.Backend = config.BackendPostgres
	}

	os.Exit(execute(cfg, *timeout, flag.Arg(0), flag.Args()[1:]))
}

// execute opens the backends, runs one command and returns the exit code.
// Connections are closed before it returns.
func execute(cfg config.Config, timeout time.Duration, cmd string, args []string) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	b, err := backend.Open(ctx, cfg)
	if err != nil {
		log.Printf("open backends: %v", err)
		return 1
	}
	defer b.Close()

	if err := run(ctx, b, cmd, args); err != nil {
		log.Printf("authctl %s: %v", cmd, err)
		return 1
	}
	return 0
}

func run(ctx context.Context, b *backend.Backends, cmd string, args []string) error {
	switch cmd {
	case "install", "remove", "reset", "status":
		mgr, err := newManager(b)
		if err != nil {
			return err
		}
		return runSchema(ctx, mgr, cmd)
	case "add-role":
		if len(args) != 1 {
			return errors.New("usage: add-role <name>")
		}
		if err := b.Users.AddRole(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("role %s created\n", args[0])
		return accountChanged(ctx, 0, "add-role", map[string]any{"role": args[0]})
	case "add-user":
		if len(args) < 2 || len(args) > 3 {
			return errors.New("usage: add-user <login> <password> [roles]")
		}
		attrs := auth.UserAttributes{Password: args[1]}
		if len(args) == 3 {
			attrs.Roles = splitList(args[2])
		}
		id, err := b.Users.AddUser(ctx, args[0], attrs)
		if err != nil {
			return err
		}
		fmt.Printf("user %s created with id %d\n", args[0], id)
		return accountChanged(ctx, id, "add-user", map[string]any{"login": args[0], "roles": attrs.Roles})
	case "remove-user":
		if len(args) != 1 {
			return errors.New("usage: remove-user <login>")
		}
		id, err := b.Users.UserID(ctx, args[0])
		if err != nil {
			return err
		}
		erased, err := b.Sessions.EraseUserSessions(ctx, id)
		if err != nil {
			return err
		}
		if _, err := b.Users.RemoveUser(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("user %s removed, %d sessions ended\n", args[0], erased)
		return accountChanged(ctx, id, "remove-user", map[string]any{"login": args[0], "erased": erased})
	case "roles":
		roles, err := b.Users.ListRoles(ctx)
		if err != nil {
			return err
		}
		for _, r := range roles {
			fmt.Println(r)
		}
		return nil
	case "purge":
		n, err := b.Sessions.PurgeSessions(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d expired sessions\n", n)
		return audit.LogEvent(ctx, audit.EventPurge, map[string]any{"purged": n, "source": "authctl"})
	case "sessions":
		n, err := b.Sessions.CountSessions(ctx)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// newManager registers users before sessions so a reset drops sessions first.
func newManager(b *backend.Backends) (*migrate.Manager, error) {
	mgr, err := migrate.NewManager(b.DB)
	if err != nil {
		return nil, err
	}
	if err := mgr.Register("users", b.Users); err != nil {
		return nil, err
	}
	if err := mgr.Register("sessions", b.Sessions); err != nil {
		return nil, err
	}
	return mgr, nil
}

func runSchema(ctx context.Context, mgr *migrate.Manager, cmd string) error {
	var changed []string
	switch cmd {
	case "install":
		names, err := mgr.Up(ctx)
		if err != nil {
			return err
		}
		changed = names
		if len(names) == 0 {
			fmt.Println("nothing to install")
		}
		for _, n := range names {
			fmt.Printf("installed %s\n", n)
		}
	case "remove":
		name, err := mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingInstalled) {
			fmt.Println("nothing installed")
			return nil
		}
		if err != nil {
			return err
		}
		changed = []string{name}
		fmt.Printf("removed %s\n", name)
	case "reset":
		names, err := mgr.Reset(ctx)
		if err != nil {
			return err
		}
		changed = names
		for _, n := range names {
			fmt.Printf("removed %s\n", n)
		}
	case "status":
		statuses, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			if s.Installed {
				fmt.Printf("%-10s installed %s\n", s.Name, s.InstalledAt.Format(time.RFC3339))
			} else {
				fmt.Printf("%-10s not installed\n", s.Name)
			}
		}
		return nil
	}
	if len(changed) == 0 {
		return nil
	}
	return audit.LogEvent(ctx, audit.EventSchemaChanged, map[string]any{"action": cmd, "components": changed})
}

func accountChanged(ctx context.Context, userID int64, action string, fields map[string]any) error {
	fields["action"] = action
	if userID > 0 {
		ctx = auth.ContextWithUser(ctx, userID)
	}
	return audit.LogEvent(ctx, audit.EventAccountChanged, fields)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
