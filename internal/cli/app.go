package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"fb_downloader/internal/auth"
	"fb_downloader/internal/config"
	"fb_downloader/internal/domain"
	"fb_downloader/internal/export"
	"fb_downloader/internal/graph"
	"fb_downloader/internal/source/facebook"
)

const rule = "============================================================"

// Authenticator obtains and validates credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, prompter auth.Prompter) (domain.Credential, error)
	TestConnection(ctx context.Context, cred domain.Credential) (bool, error)
}

// Client is an authenticated download pipeline.
type Client interface {
	GetUserInfo(ctx context.Context) (*domain.UserProfile, error)
	Download(ctx context.Context, limit int, progress facebook.ProgressFunc) (*domain.DownloadStats, error)
	LatestSnapshot(ctx context.Context) (*domain.Snapshot, error)
}

// Connector builds a Client around a validated credential.
type Connector func(cred domain.Credential) (Client, error)

type Config struct {
	TokenPath string
	Fetch     config.FetchConfig
}

// App is the interactive menu.
type App struct {
	authn    Authenticator
	connect  Connector
	exporter *export.Exporter
	cfg      Config
	console  *console
	logger   *slog.Logger

	client Client
	user   *domain.UserProfile
}

func New(authn Authenticator, connect Connector, exporter *export.Exporter, cfg Config, in io.Reader, out io.Writer, logger *slog.Logger) *App {
	return &App{
		authn:    authn,
		connect:  connect,
		exporter: exporter,
		cfg:      cfg,
		console:  newConsole(in, out),
		logger:   logger.With("component", "cli"),
	}
}

// Run shows the menu until the operator exits or input ends. It returns
// ctx.Err() when interrupted.
func (a *App) Run(ctx context.Context) error {
	c := a.console

	c.println(rule)
	c.println("FACEBOOK DATA DOWNLOADER")
	c.println(rule)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		a.showMenu()

		choice, err := c.ask(ctx, "Enter your choice (1-5): ")
		switch {
		case errors.Is(err, ErrInputClosed):
			return nil
		case err != nil:
			return err
		}

		switch choice {
		case "1":
			err = a.authenticate(ctx)
		case "2":
			err = a.download(ctx)
		case "3":
			err = a.exportComments(ctx)
		case "4":
			a.viewInfo(ctx)
		case "5":
			c.println()
			c.println("Thank you for using Facebook Data Downloader!")
			c.println("Goodbye!")
			return nil
		default:
			c.println("✗ Invalid choice. Please try again.")
		}

		switch {
		case errors.Is(err, ErrInputClosed):
			return nil
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		}
	}
}

func (a *App) showMenu() {
	c := a.console

	c.println()
	if a.user != nil {
		c.printf("Logged in as: %s\n", a.user.Name)
	} else {
		c.println("Not authenticated")
	}
	c.println()
	c.println("1. Authenticate with Facebook")
	c.println("2. Download posts and comments")
	c.println("3. Export comments only")
	c.println("4. View data info")
	c.println("5. Exit")
	c.println()
}

func (a *App) authenticate(ctx context.Context) error {
	c := a.console

	if cred, ok := auth.LoadToken(a.cfg.TokenPath); ok {
		answer, err := c.ask(ctx, "Token file found. Use existing token? (y/n): ")
		if err != nil {
			return err
		}

		if strings.EqualFold(answer, "y") {
			valid, err := a.authn.TestConnection(ctx, cred)
			if err != nil {
				c.println("✗ " + describe(err))
				return err
			}
			if valid {
				if err := a.useCredential(ctx, cred); err != nil {
					c.println("✗ " + describe(err))
					return err
				}
				c.printf("✓ Connected as: %s\n", a.user.Name)
				return nil
			}
			c.println("✗ Saved token is no longer valid. Starting a new login.")
		}
	}

	cred, err := a.authn.Authenticate(ctx, c)
	if err != nil {
		c.println("✗ " + describe(err))
		return err
	}

	if err := auth.SaveToken(a.cfg.TokenPath, cred); err != nil {
		a.logger.Warn("failed to save token", "path", a.cfg.TokenPath, "error", err)
		c.println("! Could not save token; you will need to log in again next time.")
	}

	if err := a.useCredential(ctx, cred); err != nil {
		c.println("✗ " + describe(err))
		return err
	}

	c.printf("✓ Successfully authenticated as: %s\n", a.user.Name)
	return nil
}

func (a *App) useCredential(ctx context.Context, cred domain.Credential) error {
	client, err := a.connect(cred)
	if err != nil {
		return err
	}

	user, err := client.GetUserInfo(ctx)
	if err != nil {
		return err
	}

	a.client = client
	a.user = user
	return nil
}

func (a *App) download(ctx context.Context) error {
	c := a.console

	if a.client == nil {
		c.println("✗ Not authenticated. Please authenticate first.")
		return nil
	}

	answer, err := c.ask(ctx, fmt.Sprintf("How many posts to download? (default: %d, max: %d): ",
		a.cfg.Fetch.DefaultLimit, a.cfg.Fetch.MaxLimit))
	if err != nil {
		return err
	}

	limit := a.cfg.Fetch.DefaultLimit
	if answer != "" {
		n, err := strconv.Atoi(answer)
		if err != nil {
			c.printf("✗ %q is not a number, using %d.\n", answer, limit)
		} else {
			limit = n
		}
	}
	limit = a.cfg.Fetch.ClampLimit(limit)

	c.println()
	c.printf("Downloading up to %d posts...\n", limit)

	progress := newCommentProgress(c.out)
	stats, err := a.client.Download(ctx, limit, progress.Func())
	progress.Finish()

	if stats != nil && stats.Exported() {
		a.reportExport(stats)
	}

	if err != nil {
		c.println("✗ " + describe(err))
		if errors.Is(err, graph.ErrAuthExpired) {
			a.client = nil
			a.user = nil
		}
		return err
	}

	if stats.Posts == 0 {
		c.println("✗ No posts found.")
	}
	return nil
}

func (a *App) reportExport(stats *domain.DownloadStats) {
	c := a.console

	c.println()
	if stats.Cancelled {
		c.println("! Download interrupted, partial data exported.")
	} else {
		c.println("✓ Data successfully exported!")
	}

	c.printf("  File: %s\n", filepath.Base(stats.ExportPath))
	if info, err := a.exporter.FileInfo(stats.ExportPath); err == nil {
		c.printf("  Size: %.2f MB\n", info.SizeMB)
	}
	c.printf("  Location: %s\n", stats.ExportPath)
	c.printf("  Posts: %d, comments: %d\n", stats.Posts, stats.Comments)

	if stats.PartialPosts > 0 {
		c.printf("! Comments of %d post(s) are incomplete; they are flagged in the file.\n", stats.PartialPosts)
		a.reportPartials(stats.Partials)
	}
	if stats.Archived {
		c.printf("  Snapshot: #%d\n", stats.SnapshotID)
	}
}

// reportPartials prints one line per failure class with the number of
// posts it truncated and the corrective hint for it.
func (a *App) reportPartials(partials []*domain.PartialFetchError) {
	var order []string
	counts := make(map[string]int)
	first := make(map[string]error)

	for _, p := range partials {
		k := class(p.Err)
		if counts[k] == 0 {
			order = append(order, k)
			first[k] = p.Err
		}
		counts[k]++
	}

	for _, k := range order {
		a.console.printf("  %d post(s): %s\n", counts[k], describe(first[k]))
	}
}

func (a *App) exportComments(ctx context.Context) error {
	c := a.console

	files, err := a.exporter.ListExports()
	if err != nil {
		c.println("✗ " + describe(err))
		return nil
	}
	if len(files) == 0 {
		c.println("✗ No downloaded data files found. Please download posts first.")
		return nil
	}

	c.println()
	c.println("Available data files:")
	for i, f := range files {
		c.printf("  %d. %s\n", i+1, filepath.Base(f))
	}

	answer, err := c.ask(ctx, fmt.Sprintf("Select file (1-%d): ", len(files)))
	if err != nil {
		return err
	}

	n, err := strconv.Atoi(answer)
	if err != nil || n < 1 || n > len(files) {
		c.println("✗ Invalid selection.")
		return nil
	}

	doc, err := export.LoadDocument(files[n-1])
	if err != nil {
		c.println("✗ " + describe(err))
		return nil
	}

	path, err := a.exporter.ExportCommentsOnly(doc.Posts, "")
	if err != nil {
		c.println("✗ " + describe(err))
		return nil
	}

	c.println("✓ Comments exported successfully!")
	c.printf("  File: %s\n", filepath.Base(path))
	return nil
}

func (a *App) viewInfo(ctx context.Context) {
	c := a.console

	files, err := a.exporter.ListExports()
	if err != nil {
		c.println("✗ " + describe(err))
		return
	}
	if len(files) == 0 {
		c.println("✗ No downloaded data files found.")
		return
	}

	c.println()
	c.println("Data files:")

	var posts, comments int
	var size float64
	for _, f := range files {
		name := filepath.Base(f)

		doc, err := export.LoadDocument(f)
		if err != nil {
			a.logger.Warn("skipping unreadable export", "path", f, "error", err)
			c.printf("  %s: unreadable\n", name)
			continue
		}

		var mb float64
		if info, err := a.exporter.FileInfo(f); err == nil {
			mb = info.SizeMB
		}

		c.printf("  %s: %d posts, %d comments, %.2f MB\n",
			name, doc.Metadata.TotalPosts, doc.Metadata.TotalComments, mb)

		posts += doc.Metadata.TotalPosts
		comments += doc.Metadata.TotalComments
		size += mb
	}

	c.println()
	c.printf("Total: %d files, %d posts, %d comments, %.2f MB\n", len(files), posts, comments, size)

	if a.client == nil {
		return
	}

	snap, err := a.client.LatestSnapshot(ctx)
	if err != nil {
		a.logger.Debug("no snapshot to show", "error", err)
		return
	}
	c.printf("Latest snapshot: #%d at %s (%d posts, %d comments)\n",
		snap.ID, snap.CreatedAt.Format("2006-01-02 15:04:05"), snap.Posts, snap.Comments)
}

// CheckEnv reports whether the app credentials are configured.
func CheckEnv(w io.Writer, fb config.FacebookConfig) bool {
	if !fb.HasCredentials() {
		fmt.Fprintln(w, "✗ Environment variables are not configured")
		fmt.Fprintf(w, "  Set %s and %s in the environment or a .env file.\n", config.EnvAppID, config.EnvAppSecret)
		return false
	}

	id := fb.AppID
	if len(id) > 10 {
		id = id[:10]
	}
	fmt.Fprintln(w, "✓ Environment variables are set")
	fmt.Fprintf(w, "  App ID: %s...\n", id)
	return true
}
