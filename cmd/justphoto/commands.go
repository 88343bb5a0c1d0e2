package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"justphoto/internal/camera"
	"justphoto/internal/feed"
	"justphoto/internal/media"
	"justphoto/internal/permission"
	"justphoto/internal/postclient"
	"justphoto/internal/websocket"
)

func runFeed(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("feed", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cache := a.feed(ctx)
	defer cache.Close()

	if err := cache.Refresh(ctx); err != nil {
		return err
	}
	printFeed(cache.Posts())
	return nil
}

func printFeed(entries []feed.Entry) {
	if len(entries) == 0 {
		fmt.Println("No posts yet")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAUTHOR\tCREATED\tLIKES\tCAPTION\tIMAGE")
	for _, e := range entries {
		p := e.Post
		id := p.ID
		if e.State == feed.Provisional {
			id += " (pending)"
		}
		fmt.Fprintf(w, "%s\t@%s\t%s\t%d\t%s\t%s\n",
			id, p.Author.Username, p.CreatedAt.Local().Format(time.DateTime), p.NumberOfLikes, oneLine(p.Content, 40), p.Image)
	}
	w.Flush()
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit-1]) + "…"
	}
	return s
}

func runPost(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("post", flag.ContinueOnError)
	image := fs.String("image", "", "local file, file:// URI or remote URL of the photo")
	assetID := fs.String("asset", "", "library asset id of the photo")
	caption := fs.String("caption", "", "post caption")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.cfg.RequireAuthor(); err != nil {
		return err
	}

	ref := *image
	if *assetID != "" {
		uri, err := a.resolveAsset(ctx, *assetID)
		if err != nil {
			return err
		}
		ref = uri
	}

	cache := a.feed(ctx)
	defer cache.Close()

	draft := postclient.Draft{Author: a.author(), Content: *caption, Image: ref}
	sub, err := cache.Submit(ctx, draft, feed.WithProgress(func(p int) {
		fmt.Fprintf(os.Stderr, "\rUploading... %3d%%", p)
		if p == 100 {
			fmt.Fprintln(os.Stderr)
		}
	}))
	if err != nil {
		return err
	}

	post, err := sub.Wait(ctx)
	if err != nil {
		return describeError(err)
	}

	fmt.Printf("Posted %s\n", post.ID)
	printFeed(cache.Posts())
	return nil
}

func (a *app) resolveAsset(ctx context.Context, id string) (string, error) {
	lib, err := a.library()
	if err != nil {
		return "", err
	}
	info, err := lib.GetAssetInfo(ctx, id)
	if err != nil {
		return "", err
	}
	resolver, err := a.resolver()
	if err != nil {
		return "", err
	}
	return resolver.Resolve(ctx, info.Asset)
}

func describeError(err error) error {
	var denied *permission.DeniedError
	switch {
	case errors.As(err, &denied):
		return err
	case media.IsResolutionError(err):
		return fmt.Errorf("could not read the photo: %w", err)
	default:
		return fmt.Errorf("post failed: %w", err)
	}
}

func runGallery(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("gallery", flag.ContinueOnError)
	pages := fs.Int("pages", 1, "number of pages to load")
	thumbs := fs.Bool("thumbnails", false, "generate thumbnails")
	if err := fs.Parse(args); err != nil {
		return err
	}

	lib, err := a.library()
	if err != nil {
		return err
	}
	resolver, err := a.resolver()
	if err != nil {
		return err
	}

	gallery := media.NewGallery(lib, resolver, a.gate, a.cfg.PageSize, a.log)
	if err := gallery.Load(ctx); err != nil {
		return err
	}
	for i := 1; i < *pages && gallery.HasNextPage(); i++ {
		if err := gallery.LoadMore(ctx); err != nil {
			return err
		}
	}

	var thumbnailer *media.Thumbnailer
	if *thumbs {
		if thumbnailer, err = media.NewThumbnailer(a.cfg.ThumbnailDir); err != nil {
			return err
		}
	}

	selected, _, _ := gallery.Selected()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tID\tFILENAME\tSIZE\tCREATED\tTHUMBNAIL")
	for _, asset := range gallery.Assets() {
		marker := ""
		if asset.ID == selected.ID {
			marker = "*"
		}
		thumb := ""
		if thumbnailer != nil {
			thumb = a.thumbnail(ctx, thumbnailer, resolver, asset)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%dx%d\t%s\t%s\n",
			marker, asset.ID, asset.Filename, asset.Width, asset.Height, asset.CreationTime.Local().Format(time.DateTime), thumb)
	}
	w.Flush()

	if gallery.HasNextPage() {
		fmt.Println("More photos available, use -pages to load them")
	}
	return nil
}

func (a *app) thumbnail(ctx context.Context, t *media.Thumbnailer, r *media.Resolver, asset media.MediaAsset) string {
	uri, err := r.Resolve(ctx, asset)
	if err != nil {
		a.log.Warn("Skipping thumbnail", "asset", asset.ID, "error", err)
		return ""
	}
	path, err := t.Thumbnail(ctx, asset, uri)
	if err != nil {
		a.log.Warn("Thumbnail failed", "asset", asset.ID, "error", err)
		return ""
	}
	return path
}

func runScan(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	dir := fs.String("dir", "", "directory to index")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return errors.New("scan: -dir is required")
	}

	if err := a.gate.Ensure(ctx, permission.MediaLibrary); err != nil {
		return err
	}
	lib, err := a.library()
	if err != nil {
		return err
	}

	added, err := lib.Scan(ctx, *dir)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d new files from %s\n", added, *dir)
	return nil
}

func runCapture(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("capture", flag.ContinueOnError)
	source := fs.String("source", "", "image the simulated camera captures")
	front := fs.Bool("front", false, "use the front camera")
	flash := fs.String("flash", string(camera.FlashOff), "flash mode: off, on or auto")
	caption := fs.String("post", "", "post the capture with this caption")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *source == "" {
		return errors.New("capture: -source is required")
	}

	lib, err := a.library()
	if err != nil {
		return err
	}

	cam := camera.NewService(camera.NewFileDevice(*source, a.cfg.CaptureDir), lib, a.gate, a.log)
	if *front {
		cam.ToggleFacing()
	}
	for cam.Settings().Flash != camera.FlashMode(*flash) {
		if cam.CycleFlash() == camera.FlashOff {
			return fmt.Errorf("capture: unknown flash mode %q", *flash)
		}
	}

	shot, err := cam.TakePicture(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Captured %s (%s)\n", shot.Asset.ID, shot.LocalURI)

	if *caption == "" {
		return nil
	}
	return runPost(ctx, a, []string{"-image", shot.LocalURI, "-caption", *caption})
}

func runWatch(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	feedURL, err := websocket.FeedURL(a.serviceURL(ctx, "posts-service", a.cfg.PostsURL))
	if err != nil {
		return err
	}

	cache := a.feed(ctx)
	defer cache.Close()

	fmt.Printf("Watching %s, press Ctrl+C to stop\n", feedURL)
	err = websocket.Watch(ctx, feedURL, func(msg websocket.Message) {
		if msg.Type != websocket.MsgPostCreated {
			return
		}
		if err := cache.Refresh(ctx); err != nil {
			a.log.Warn("Feed refresh failed", "error", err)
			return
		}
		for _, e := range cache.Posts() {
			if e.Post.ID == msg.PostID {
				p := e.Post
				fmt.Printf("New post by @%s: %s %s\n", p.Author.Username, oneLine(p.Content, 60), p.Image)
				return
			}
		}
	})
	if websocket.IsClosed(err) {
		return nil
	}
	return err
}

func runPermissions(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("permissions", flag.ContinueOnError)
	reset := fs.String("reset", "", "forget the decision for camera or media-library")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *reset != "" {
		kind := permission.Kind(*reset)
		if kind != permission.Camera && kind != permission.MediaLibrary {
			return fmt.Errorf("permissions: unknown kind %q", *reset)
		}
		if err := a.perms.Reset(kind); err != nil {
			return err
		}
		fmt.Printf("Reset %s access\n", kind)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tSTATUS\tCAN ASK AGAIN")
	for _, kind := range []permission.Kind{permission.Camera, permission.MediaLibrary} {
		resp, err := a.perms.Get(ctx, kind)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%t\n", kind, resp.Status, resp.CanAskAgain)
	}
	return w.Flush()
}
