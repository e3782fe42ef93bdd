package main

import (
	"fmt"
	"os"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "scribe",
		Usage:   "blogging API with content moderation and auto-replies",
		Version: versioninfo.Short(),
		// serve is the default when no command is given
		Action: runServe,
		Flags:  serveFlags,
		Commands: []*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"server"},
				Usage:   "start the API server",
				Flags:   serveFlags,
				Action:  runServe,
			},
			{
				Name:   "migrate",
				Usage:  "create or update the database schema and exit",
				Action: runMigrate,
			},
			{
				Name:  "register",
				Usage: "create an account and log in",
				Flags: []cli.Flag{
					urlFlag,
					&cli.StringFlag{Name: "email", Required: true},
					passwordFlag,
				},
				Action: cmdRegister,
			},
			{
				Name:    "login",
				Aliases: []string{"auth"},
				Usage:   "log in again when the token expires",
				Flags:   []cli.Flag{passwordFlag},
				Action:  cmdLogin,
			},
			{
				Name:    "status",
				Aliases: []string{"whoami"},
				Usage:   "show the saved account and token state",
				Action:  cmdStatus,
			},
			{
				Name:    "post",
				Aliases: []string{"submit"},
				Usage:   "publish a post",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Required: true},
					&cli.StringFlag{Name: "content", Required: true},
					&cli.BoolFlag{Name: "auto-reply", Usage: "reply automatically to new comments"},
					&cli.IntFlag{Name: "delay", Value: -1, Usage: "auto-reply delay in seconds (server default when unset)"},
				},
				Action: cmdPost,
			},
			{
				Name:  "comment",
				Usage: "comment on a post",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "post", Required: true},
					&cli.StringFlag{Name: "text", Required: true},
				},
				Action: cmdComment,
			},
			{
				Name:    "delete",
				Aliases: []string{"rm"},
				Usage:   "delete one of your posts",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "post", Required: true},
				},
				Action: cmdDelete,
			},
			{
				Name:    "read",
				Aliases: []string{"list"},
				Usage:   "list posts, or show one post with its comments",
				Flags: []cli.Flag{
					urlFlag,
					&cli.Int64Flag{Name: "post", Usage: "show a single post with comments"},
					&cli.Int64Flag{Name: "author", Usage: "only posts by this user id"},
					&cli.IntFlag{Name: "page", Value: 1},
					&cli.IntFlag{Name: "limit", Value: 10},
				},
				Action: cmdRead,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var urlFlag = &cli.StringFlag{
	Name:    "url",
	Value:   "http://localhost:8080",
	Usage:   "Scribe server URL",
	EnvVars: []string{"SCRIBE_URL"},
}

var passwordFlag = &cli.StringFlag{
	Name:    "password",
	Usage:   "account password",
	EnvVars: []string{"SCRIBE_PASSWORD"},
}

var serveFlags = []cli.Flag{
	&cli.StringFlag{Name: "addr", Usage: "listen address", EnvVars: []string{"SCRIBE_ADDR"}},
	&cli.StringFlag{Name: "metrics-addr", Usage: "metrics listen address, empty to disable", EnvVars: []string{"SCRIBE_METRICS_ADDR"}},
	&cli.DurationFlag{Name: "shutdown-timeout", Value: 10 * time.Second},
}
