package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alphabot-ai/scribe/internal/client"
	"github.com/urfave/cli/v2"
)

// CLIConfig holds the CLI client configuration persisted to disk.
type CLIConfig struct {
	BaseURL      string `json:"base_url"`
	Email        string `json:"email"`
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	TokenExp     string `json:"token_expires"`
}

func cmdRegister(cctx *cli.Context) error {
	password, err := requirePassword(cctx)
	if err != nil {
		return err
	}
	cfg := CLIConfig{
		BaseURL: strings.TrimSuffix(cctx.String("url"), "/"),
		Email:   cctx.String("email"),
	}
	c := client.New(cfg.BaseURL)

	user, err := c.Register(cfg.Email, password)
	switch {
	case errors.Is(err, client.ErrAlreadyRegistered):
		fmt.Printf("✓ Already registered as %s\n", cfg.Email)
	case err != nil:
		return err
	default:
		fmt.Printf("✓ Registered %s (user %d)\n", user.Email, user.ID)
	}

	if _, err := c.Login(cfg.Email, password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := saveSession(cfg, c); err != nil {
		return err
	}
	fmt.Printf("✓ Logged in (expires %s)\n", c.TokenExp.Format(time.RFC3339))
	fmt.Println("\nReady to post! Example:")
	fmt.Println(`  scribe post --title "Hello" --content "My first post" --auto-reply`)
	return nil
}

func cmdLogin(cctx *cli.Context) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}
	c := client.New(cfg.BaseURL)

	// a live refresh token avoids asking for the password again
	if cfg.RefreshToken != "" && !cctx.IsSet("password") {
		c.RefreshToken = cfg.RefreshToken
		if err := c.Refresh(); err == nil {
			fmt.Printf("✓ Token refreshed (expires %s)\n", c.TokenExp.Format(time.RFC3339))
			return saveSession(cfg, c)
		}
	}

	password, err := requirePassword(cctx)
	if err != nil {
		return err
	}
	if _, err := c.Login(cfg.Email, password); err != nil {
		return err
	}
	fmt.Printf("✓ Logged in as %s (expires %s)\n", cfg.Email, c.TokenExp.Format(time.RFC3339))
	return saveSession(cfg, c)
}

func cmdStatus(cctx *cli.Context) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		fmt.Println("Status: Not initialized")
		fmt.Println("\nRun: scribe register --email <email>")
		return nil
	}
	fmt.Printf("Account: %s\n", cfg.Email)
	fmt.Printf("Server:  %s\n", cfg.BaseURL)
	exp, err := time.Parse(time.RFC3339, cfg.TokenExp)
	switch {
	case cfg.Token == "" || err != nil:
		fmt.Println("Token:   none")
	case time.Now().After(exp):
		fmt.Printf("Token:   expired %s\n", exp.Format(time.RFC3339))
	default:
		fmt.Printf("Token:   valid until %s\n", exp.Format(time.RFC3339))
	}
	return nil
}

func cmdPost(cctx *cli.Context) error {
	c, err := loadAuthenticatedClient()
	if err != nil {
		return err
	}
	p := client.NewPost{
		Title:            cctx.String("title"),
		Content:          cctx.String("content"),
		AutoReplyEnabled: cctx.Bool("auto-reply"),
	}
	if d := cctx.Int("delay"); d >= 0 {
		p.AutoReplyDelay = &d
	}
	post, err := c.CreatePost(p)
	if err != nil {
		return describeBlocked(err)
	}
	fmt.Printf("✓ Posted #%d: %s\n", post.ID, post.Title)
	if post.AutoReplyEnabled {
		fmt.Printf("  Auto-reply after %ds\n", post.AutoReplyDelay)
	}
	return nil
}

func cmdComment(cctx *cli.Context) error {
	c, err := loadAuthenticatedClient()
	if err != nil {
		return err
	}
	comment, err := c.CreateComment(cctx.Int64("post"), cctx.String("text"))
	if err != nil {
		return describeBlocked(err)
	}
	fmt.Printf("✓ Comment #%d on post #%d\n", comment.ID, comment.PostID)
	if comment.AutoReplyJob != "" {
		fmt.Printf("  Auto-reply scheduled (%s)\n", comment.AutoReplyJob)
	}
	return nil
}

func cmdDelete(cctx *cli.Context) error {
	c, err := loadAuthenticatedClient()
	if err != nil {
		return err
	}
	id := cctx.Int64("post")
	if err := c.DeletePost(id); err != nil {
		return err
	}
	fmt.Printf("✓ Deleted post #%d\n", id)
	return nil
}

func cmdRead(cctx *cli.Context) error {
	baseURL := strings.TrimSuffix(cctx.String("url"), "/")
	if cfg, err := loadCLIConfig(); err == nil && !cctx.IsSet("url") {
		baseURL = cfg.BaseURL
	}
	c := client.New(baseURL)

	if id := cctx.Int64("post"); id != 0 {
		post, err := c.GetPost(id)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s\n", post.Title)
		fmt.Printf("  #%d | Author %d | %s\n", post.ID, post.AuthorID, post.CreatedAt.Format(time.RFC822))
		fmt.Printf("\n  %s\n", post.Content)

		comments, err := c.ListComments(id, false)
		if err == nil && len(comments) > 0 {
			fmt.Printf("\n  --- Comments (%d) ---\n", len(comments))
			for _, comment := range comments {
				who := comment.AuthorEmail
				if comment.IsAutoReply {
					who += " (auto)"
				}
				fmt.Printf("  [%d] %s: %s\n", comment.ID, who, comment.Content)
			}
		}
		return nil
	}

	page, err := c.ListPosts(cctx.Int("page"), cctx.Int("limit"), cctx.Int64("author"))
	if err != nil {
		return err
	}
	fmt.Printf("\nScribe (page %d of %d, %d posts)\n\n", page.Page, page.Pages, page.Total)
	for i, p := range page.Posts {
		fmt.Printf("%d. %s\n", (page.Page-1)*page.PageSize+i+1, p.Title)
		fmt.Printf("   Author %d | #%d\n\n", p.AuthorID, p.ID)
	}
	return nil
}

func describeBlocked(err error) error {
	var blocked *client.BlockedError
	if errors.As(err, &blocked) {
		return fmt.Errorf("rejected by moderation: %s (issues: %s, severity: %s)",
			blocked.Message, strings.Join(blocked.Issues, ", "), blocked.Severity)
	}
	return err
}

func requirePassword(cctx *cli.Context) (string, error) {
	pw := cctx.String("password")
	if pw == "" {
		return "", errors.New("--password or SCRIBE_PASSWORD is required")
	}
	return pw, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func scribeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".scribe")
}

func cliConfigPath() string {
	return filepath.Join(scribeDir(), "config.json")
}

func loadCLIConfig() (CLIConfig, error) {
	data, err := os.ReadFile(cliConfigPath())
	if err != nil {
		return CLIConfig{}, errors.New("not initialized - run 'scribe register --email <email>'")
	}
	var cfg CLIConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return CLIConfig{}, err
	}
	return cfg, nil
}

func saveCLIConfig(cfg CLIConfig) error {
	if err := os.MkdirAll(scribeDir(), 0700); err != nil {
		return err
	}
	data, _ := json.MarshalIndent(cfg, "", "  ")
	return os.WriteFile(cliConfigPath(), data, 0600)
}

func saveSession(cfg CLIConfig, c *client.Client) error {
	cfg.Token = c.Token
	cfg.RefreshToken = c.RefreshToken
	cfg.TokenExp = c.TokenExp.Format(time.RFC3339)
	if err := saveCLIConfig(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

func loadAuthenticatedClient() (*client.Client, error) {
	cfg, err := loadCLIConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, errors.New("not authenticated - run 'scribe login'")
	}
	c := client.New(cfg.BaseURL)
	c.Token = cfg.Token
	c.RefreshToken = cfg.RefreshToken
	c.TokenExp, _ = time.Parse(time.RFC3339, cfg.TokenExp)
	if c.IsAuthenticated() {
		return c, nil
	}
	if c.RefreshToken == "" {
		return nil, errors.New("token expired - run 'scribe login'")
	}
	if err := c.Refresh(); err != nil {
		return nil, fmt.Errorf("token expired and refresh failed (%v) - run 'scribe login'", err)
	}
	if err := saveSession(cfg, c); err != nil {
		return nil, err
	}
	return c, nil
}
