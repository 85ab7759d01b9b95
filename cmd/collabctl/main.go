// Command collabctl is a terminal client for sync-scribe: it manages
// documents and opens live editing sessions.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/joho/godotenv"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/auth"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/config"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/docsclient"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/realtime"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/session"
)

const CollabCtlVersion = "0.1.0"

const usage = `Collaborative document control.

Identify with a JWT, or with --user and --email against a server that has
no JWT_SECRET configured.

Usage:
    collabctl create [options] [<content>]
    collabctl list [options]
    collabctl share [options] <document_id> <email>
    collabctl unshare [options] <document_id> <user_id>
    collabctl delete [options] <document_id>
    collabctl edit [options] <document_id>

Options:
    -h --help            Show this screen.
    --version            Show version.
    --api_url=<api_url>  Server base URL [default: http://localhost:8080].
    --jwt=<jwt>          Identity token.
    --user=<id>          Dev user id.
    --email=<email>      Dev user email.
    --verbose            Log to stderr.`

type identity struct {
	user  *domain.User
	token string
}

func main() {
	_ = godotenv.Load()

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CollabCtlVersion)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if verbose, _ := opts.Bool("--verbose"); verbose {
		_ = flag.Set("logtostderr", "true")
		_ = flag.Set("v", "1")
	}
	defer glog.Flush()

	id, err := resolveIdentity(opts)
	if err != nil {
		fatal(err)
	}
	apiURL, _ := opts.String("--api_url")
	client := newClient(apiURL, id)

	ctx := context.Background()
	switch {
	case flagSet(opts, "create"):
		err = create(ctx, client, opts)
	case flagSet(opts, "list"):
		err = list(ctx, client)
	case flagSet(opts, "share"):
		err = share(ctx, client, opts)
	case flagSet(opts, "unshare"):
		docID, _ := opts.String("<document_id>")
		userID, _ := opts.String("<user_id>")
		err = client.RemoveShare(ctx, docID, userID)
	case flagSet(opts, "delete"):
		docID, _ := opts.String("<document_id>")
		err = client.DeleteDocument(ctx, docID)
	case flagSet(opts, "edit"):
		err = edit(ctx, client, apiURL, id, opts)
	}
	if err != nil {
		fatal(err)
	}
}

func flagSet(opts docopt.Opts, key string) bool {
	v, _ := opts.Bool(key)
	return v
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "collabctl: %v\n", err)
	glog.Flush()
	os.Exit(1)
}

func resolveIdentity(opts docopt.Opts) (*identity, error) {
	token, _ := opts.String("--jwt")
	if token == "" {
		token = os.Getenv("COLLAB_JWT")
	}
	if token != "" {
		u, err := auth.ParseUnverified(token)
		if err != nil {
			return nil, err
		}
		return &identity{user: u, token: token}, nil
	}

	userID, _ := opts.String("--user")
	email, _ := opts.String("--email")
	if userID == "" || email == "" {
		return nil, fmt.Errorf("either --jwt or both --user and --email are required")
	}
	return &identity{user: &domain.User{ID: userID, Email: email, Username: domain.UsernameFromEmail(email)}}, nil
}

func newClient(apiURL string, id *identity) *docsclient.Client {
	if id.token != "" {
		return docsclient.NewClient(apiURL, id.token)
	}
	return docsclient.NewDevClient(apiURL, id.user)
}

func newAdapter(apiURL string, id *identity) (*realtime.WebSocketAdapter, error) {
	wsURL, err := realtime.WebSocketURL(apiURL)
	if err != nil {
		return nil, err
	}
	adapter := realtime.NewWebSocketAdapter(wsURL, id.token)
	if id.token == "" {
		adapter.Header.Set(auth.HeaderUserID, id.user.ID)
		adapter.Header.Set(auth.HeaderUserEmail, id.user.Email)
	}
	return adapter, nil
}

func create(ctx context.Context, client *docsclient.Client, opts docopt.Opts) error {
	content, _ := opts.String("<content>")
	doc, err := client.CreateDocument(ctx, content)
	if err != nil {
		return err
	}
	fmt.Println(doc.ID)
	return nil
}

func list(ctx context.Context, client *docsclient.Client) error {
	docs, err := client.ListDocuments(ctx)
	if err != nil {
		return err
	}
	for _, d := range docs {
		fmt.Printf("%s  v%-4d owner=%-12s %s\n", d.ID, d.Version, d.OwnerID, preview(d.Content))
	}
	return nil
}

func share(ctx context.Context, client *docsclient.Client, opts docopt.Opts) error {
	docID, _ := opts.String("<document_id>")
	email, _ := opts.String("<email>")
	s, err := client.Share(ctx, docID, email)
	if err != nil {
		return err
	}
	fmt.Printf("shared %s with %s\n", docID, s.UserID)
	return nil
}

func preview(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}

const editHelp = `Type a line to replace the document, or:
    +<text>       append text
    /cursor x y   move your cursor
    /who          list participants
    /show         print the document
    /save         save a new version
    /quit         leave`

func edit(ctx context.Context, client *docsclient.Client, apiURL string, id *identity, opts docopt.Opts) error {
	docID, _ := opts.String("<document_id>")
	adapter, err := newAdapter(apiURL, id)
	if err != nil {
		return err
	}

	cfg := config.Load()
	manager := session.NewManager(adapter, client, session.Config{
		Debounce:         cfg.Debounce,
		SubscribeTimeout: cfg.SubscribeTimeout,
	})

	self := domain.PresenceUser{ID: id.user.ID, Email: id.user.Email, Username: id.user.Username}
	s, err := manager.Open(ctx, docID, self, session.Options{
		OnContent: func(content string) {
			fmt.Printf("\n--- remote update ---\n%s\n> ", content)
		},
		OnPresence: func(view map[string]domain.Presence) {
			fmt.Printf("\n[%s]\n> ", participants(view))
		},
	})
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Editing %s (v%d, %s)\n%s\n\n%s\n", docID, s.Version(), s.State(), editHelp, s.Content())

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := command(ctx, s, line); quit {
				return nil
			}
		}
	}
}

// command applies one line of input. It reports whether to leave.
func command(ctx context.Context, s *session.Session, line string) bool {
	switch {
	case line == "/quit":
		fmt.Println("Bye!")
		return true
	case line == "/who":
		fmt.Println(participants(s.Participants()))
	case line == "/show":
		fmt.Println(s.Content())
	case line == "/save":
		saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		state, err := s.Save(saveCtx)
		if err != nil {
			fmt.Printf("save failed: %v\n", err)
			return false
		}
		fmt.Printf("saved v%d\n", state.Version)
	case strings.HasPrefix(line, "/cursor"):
		fields := strings.Fields(line)
		if len(fields) != 3 {
			fmt.Println("usage: /cursor x y")
			return false
		}
		x, errX := strconv.ParseFloat(fields[1], 64)
		y, errY := strconv.ParseFloat(fields[2], 64)
		if errX != nil || errY != nil {
			fmt.Println("usage: /cursor x y")
			return false
		}
		if err := s.MoveCursor(ctx, &domain.Cursor{X: x, Y: y}); err != nil {
			fmt.Printf("cursor not shared: %v\n", err)
		}
	case strings.HasPrefix(line, "/"):
		fmt.Println(editHelp)
	case strings.HasPrefix(line, "+"):
		s.Edit(s.Content() + line[1:])
	default:
		s.Edit(line)
	}
	return false
}

func participants(view map[string]domain.Presence) string {
	keys := make([]string, 0, len(view))
	for k := range view {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		p := view[k]
		entry := fmt.Sprintf("%s %s", p.User.Username, domain.ColorFor(p.User.ID))
		if p.Cursor != nil {
			entry += fmt.Sprintf(" @%g,%g", p.Cursor.X, p.Cursor.Y)
		}
		parts = append(parts, entry)
	}
	return strings.Join(parts, " | ")
}
