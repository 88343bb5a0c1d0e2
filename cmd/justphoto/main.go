// Command justphoto is the JustPhoto client: it browses the feed, posts
// photos from the local library or camera and watches for new posts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"justphoto/internal/config"
	"justphoto/internal/consul"
	"justphoto/internal/feed"
	"justphoto/internal/logger"
	"justphoto/internal/media"
	"justphoto/internal/permission"
	"justphoto/internal/postclient"
	"justphoto/internal/uploader"

	_ "github.com/joho/godotenv/autoload"
)

const usage = `usage: justphoto <command> [flags]

commands:
  feed         list the feed
  post         post a photo with a caption
  gallery      list photos in the local library
  scan         index a directory into the library
  capture      take a picture into the library
  watch        follow new posts as they are created
  permissions  show or reset camera and photo access
`

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"feed":    runFeed,
	"post":    runPost,
	"gallery": runGallery,
	"scan":    runScan,
	"capture": runCapture,
	"watch":   runWatch,

	"permissions": runPermissions,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, "justphoto:", err)
		os.Exit(1)
	}
	defer a.close()

	if err := cmd(ctx, a, os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "justphoto:", err)
		os.Exit(1)
	}
}

// app holds the client components. The library and network clients are
// opened on first use so commands only pay for what they touch.
type app struct {
	cfg    *config.ClientConfig
	log    *slog.Logger
	http   *http.Client
	perms  *permission.Store
	gate   *permission.Gate
	lib    *media.Library
	consul *consul.Client
}

func newApp() (*app, error) {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return nil, err
	}

	// Logs go to stderr so command output stays clean
	log := logger.NewWithWriter(os.Stderr, "justphoto", logger.ParseFormat(os.Getenv("LOG_FORMAT"), logger.FormatText))

	if err := os.MkdirAll(cfg.LibraryDir, 0o755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}
	perms, err := permission.OpenStore(
		filepath.Join(cfg.LibraryDir, "permissions.json"),
		permission.TerminalPrompter(os.Stdin, os.Stderr, int(os.Stdin.Fd())),
	)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:   cfg,
		log:   log,
		http:  &http.Client{Timeout: cfg.HTTPTimeout},
		perms: perms,
		gate:  permission.NewGate(perms, log),
	}

	if cfg.ConsulAddr != "" {
		a.consul, err = consul.NewClient(cfg.ConsulAddr, cfg.ConsulToken)
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.lib != nil {
		a.lib.Close()
	}
}

func (a *app) library() (*media.Library, error) {
	if a.lib != nil {
		return a.lib, nil
	}
	lib, err := media.OpenLibrary(
		filepath.Join(a.cfg.LibraryDir, "library.db"),
		a.cfg.LibraryDir,
		media.Platform(a.cfg.LibraryPlatform),
		a.log,
	)
	if err != nil {
		return nil, err
	}
	a.lib = lib
	return lib, nil
}

func (a *app) resolver() (*media.Resolver, error) {
	lib, err := a.library()
	if err != nil {
		return nil, err
	}
	return media.NewResolver(lib, lib.Platform(), a.gate), nil
}

// serviceURL prefers a healthy Consul instance and falls back to the
// configured URL
func (a *app) serviceURL(ctx context.Context, name, fallback string) string {
	if a.consul == nil {
		return fallback
	}
	inst, err := a.consul.DiscoverOne(ctx, name)
	if err != nil {
		a.log.Warn("Service discovery failed, using configured URL", "service", name, "url", fallback, "error", err)
		return fallback
	}
	return inst.BaseURL()
}

func (a *app) postClient(ctx context.Context) *postclient.Client {
	filesURL := a.serviceURL(ctx, "files-service", a.cfg.FilesURL)
	postsURL := a.serviceURL(ctx, "posts-service", a.cfg.PostsURL)

	up := uploader.New(filesURL, a.http, a.log)
	return postclient.New(postsURL, a.http, up, a.log, postclient.WithLimit(a.cfg.FeedLimit))
}

func (a *app) feed(ctx context.Context) *feed.Cache {
	return feed.New(a.postClient(ctx), a.log)
}

func (a *app) author() postclient.Author {
	return postclient.Author{
		ID:       a.cfg.UserID,
		Name:     a.cfg.UserName,
		Username: a.cfg.UserHandle,
		Image:    a.cfg.UserAvatar,
	}
}
