// Command credctl administers tenant OAuth clients and principal credentials.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "credctl"
	app.Usage = "manage tenant OAuth clients and provider credentials"
	app.Action = cli.ShowAppHelp
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to the TOML config file",
			Value:   "credctl.toml",
			EnvVars: []string{"CREDCTL_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "env-file",
			Usage: "dotenv file with secrets, loaded before environment overrides",
			Value: ".env",
		},
	}
	app.Commands = []*cli.Command{
		{
			Action:      runKeygen,
			Name:        "keygen",
			Usage:       "Generate a master key",
			Category:    "Setup",
			Description: `Prints a random base64 key for CREDCTL_MASTER_KEY.`,
		},
		{
			Name:     "tenant",
			Usage:    "Manage tenant OAuth clients",
			Category: "Tenants",
			Subcommands: []*cli.Command{
				{
					Action: runTenantSet,
					Name:   "set",
					Usage:  "Register or replace a tenant's OAuth client",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "tenant", Required: true},
						&cli.StringFlag{Name: "client-id", Required: true},
						&cli.StringFlag{Name: "client-secret", Usage: "defaults to $CREDCTL_CLIENT_SECRET", EnvVars: []string{"CREDCTL_CLIENT_SECRET"}},
						&cli.StringFlag{Name: "admin-email", Usage: "email of the tenant's administrative principal"},
						&cli.StringFlag{Name: "domain", Usage: "provider hosted domain"},
					},
				},
			},
		},
		{
			Name:     "member",
			Usage:    "Manage tenant memberships",
			Category: "Tenants",
			Subcommands: []*cli.Command{
				{
					Action: runMemberAdd,
					Name:   "add",
					Usage:  "Add a principal to a tenant",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "tenant", Required: true},
						&cli.StringFlag{Name: "principal", Required: true},
						&cli.StringFlag{Name: "email"},
					},
				},
			},
		},
		{
			Action:   runAuthURL,
			Name:     "auth-url",
			Usage:    "Print a consent URL",
			Category: "Credentials",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "tenant", Required: true},
				&cli.StringFlag{Name: "principal", Required: true},
				&cli.BoolFlag{Name: "force-consent", Usage: "always show the consent screen"},
				&cli.StringFlag{Name: "login-hint"},
			},
		},
		{
			Action:      runConnect,
			Name:        "connect",
			Usage:       "Exchange a consent callback code and store the credential",
			Category:    "Credentials",
			Description: `Pass the state and code query parameters the provider redirected with.`,
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "state", Required: true},
				&cli.StringFlag{Name: "code", Required: true},
				&cli.StringFlag{Name: "principal", Required: true, Usage: "principal completing the consent"},
			},
		},
		{
			Action:   runResolve,
			Name:     "resolve",
			Usage:    "Resolve a credential, refreshing it if needed",
			Category: "Credentials",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "tenant", Required: true},
				&cli.StringFlag{Name: "principal"},
				&cli.BoolFlag{Name: "admin", Usage: "resolve the tenant's administrative credential"},
				&cli.BoolFlag{Name: "show-token", Usage: "print the access token"},
			},
		},
		{
			Action:   runRevoke,
			Name:     "revoke",
			Usage:    "Revoke and delete a principal's credential",
			Category: "Credentials",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "principal", Required: true},
				&cli.StringFlag{Name: "tenant", Usage: "defaults to the principal's most recently active tenant"},
				&cli.BoolFlag{Name: "local", Usage: "only delete the stored credential; requires --tenant"},
			},
		},
	}
	return app
}
