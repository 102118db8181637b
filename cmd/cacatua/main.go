// Command cacatua is a terminal client for the API: sign in, check the
// session, read and send channel messages, and follow a channel live.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cacatua/cacatua/backend/go-services/pkg/authclient"
	"github.com/cacatua/cacatua/backend/go-services/pkg/chatclient"
	"github.com/cacatua/cacatua/backend/go-services/pkg/logger"
)

const usage = `usage: cacatua <command> [flags]

commands:
  login    -email E [-password P] [-remember=false]
  check    report whether the stored access token is valid
  me       print the signed-in profile
  logout   revoke every session of the signed-in user
  history  -channel C [-limit N]
  send     -channel C [-server S] text...
  watch    -channel C
  theme    [name]

environment:
  CACATUA_API_URL       API base URL (default http://localhost:7297)
  CACATUA_SESSION_FILE  durable session file
  CACATUA_PASSWORD      password for login when -password is omitted
  LOG_LEVEL             debug|info|warn|error
`

func main() {
	logger.SetOutput(os.Stderr)
	logger.Init(envOr("LOG_LEVEL", "warn"))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := newGateway()
	if err != nil {
		logger.Fatalf("open session: %v", err)
	}
	if err := run(ctx, gw, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, authclient.ErrSessionExpired) || errors.Is(err, authclient.ErrNoSession) {
			fmt.Fprintln(os.Stderr, "not signed in; run `cacatua login`")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "cacatua %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func newGateway() (*authclient.Gateway, error) {
	path := os.Getenv("CACATUA_SESSION_FILE")
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "cacatua", "session.json")
	}
	durable, err := authclient.NewFileStorage(path)
	if err != nil {
		return nil, err
	}
	session := authclient.NewSession(durable, authclient.NewMemoryStorage())
	if err := session.Restore(); err != nil {
		logger.Warnf("restore session: %v", err)
	}
	// no client-wide timeout: watch holds the connection open
	return authclient.New(envOr("CACATUA_API_URL", "http://localhost:7297"), session,
		authclient.WithHTTPClient(&http.Client{}),
		authclient.WithRefreshTimeout(15*time.Second)), nil
}

func run(ctx context.Context, gw *authclient.Gateway, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	switch cmd {
	case "login":
		email := fs.String("email", "", "account email")
		password := fs.String("password", os.Getenv("CACATUA_PASSWORD"), "account password")
		remember := fs.Bool("remember", true, "keep the session after this command exits")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *email == "" || *password == "" {
			return errors.New("-email and a password are required")
		}
		p, err := gw.Login(ctx, *email, *password, *remember)
		if err != nil {
			return err
		}
		if !*remember {
			logger.Warnf("session is not remembered and ends with this process")
		}
		fmt.Printf("signed in as %s (%s)\n", displayName(p), p.UID)
		return nil

	case "check":
		ok, err := gw.CheckJWT(ctx)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("access token expired; it is refreshed on the next request")
			return nil
		}
		fmt.Println("access token valid")
		return nil

	case "me":
		resp, err := gw.Do(ctx, http.MethodGet, "/api/Auth/me", nil)
		if err != nil {
			return err
		}
		if resp.Status != http.StatusOK {
			return fmt.Errorf("status %d", resp.Status)
		}
		fmt.Println(string(resp.Body))
		return nil

	case "logout":
		if err := gw.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("signed out")
		return nil

	case "history":
		channel := fs.String("channel", "general", "channel id")
		limit := fs.Int("limit", chatclient.DefaultHistory, "number of messages")
		if err := fs.Parse(args); err != nil {
			return err
		}
		conv := chatclient.New(gw, *channel)
		if err := conv.Load(ctx, *limit); err != nil {
			return err
		}
		for _, m := range conv.Messages() {
			printMessage(m)
		}
		return nil

	case "send":
		channel := fs.String("channel", "general", "channel id")
		server := fs.String("server", "", "server id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		uid := ""
		if p := gw.Session().Snapshot().Profile; p != nil {
			uid = p.UID
		}
		conv := chatclient.New(gw, *channel, chatclient.WithSender(uid), chatclient.WithServer(*server))
		m, err := conv.Send(ctx, strings.Join(fs.Args(), " "))
		if err != nil {
			return err
		}
		printMessage(m)
		return nil

	case "watch":
		channel := fs.String("channel", "general", "channel id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return watch(ctx, gw, *channel)

	case "theme":
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() == 0 {
			fmt.Println(envOrValue(gw.Session().Theme(), "default"))
			return nil
		}
		return gw.Session().SetTheme(fs.Arg(0))
	}
	fmt.Fprint(os.Stderr, usage)
	return fmt.Errorf("unknown command %q", cmd)
}

func watch(ctx context.Context, gw *authclient.Gateway, channel string) error {
	conv := chatclient.New(gw, channel)
	if err := conv.Load(ctx, chatclient.DefaultHistory); err != nil {
		return err
	}
	seen := map[string]bool{}
	flush := func() {
		for _, m := range conv.Messages() {
			if !seen[m.ID] {
				seen[m.ID] = true
				printMessage(m)
			}
		}
	}
	flush()
	if err := conv.Watch(ctx); err != nil {
		return err
	}
	defer conv.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conv.Updates():
			flush()
		}
	}
}

func printMessage(m chatclient.Message) {
	fmt.Printf("%s  %-12s %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04:05"), m.SenderUID, m.Text)
}

func displayName(p *authclient.Profile) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Email
}

func envOr(key, def string) string {
	return envOrValue(os.Getenv(key), def)
}

func envOrValue(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
