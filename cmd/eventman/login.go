package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eventman/eventman-live/eventman/reminder"
)

func buildLoginCmd(load func() (Config, error)) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print an access token",
		Long: `Log in with email and password and print the access token.

The password is read from standard input when --password is not given.`,
		Example: `  eventman login --email ada@example.com
  export EVENTMAN_TOKEN=$(eventman login --email ada@example.com --quiet < pw.txt)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if email == "" {
				email = cfg.Email
			}
			if email == "" {
				return errors.New("--email is required")
			}
			quiet, _ := cmd.Flags().GetBool("quiet")
			if password == "" {
				if !quiet {
					fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				}
				password, err = readLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
			}

			a := newApp(cfg, cmd.OutOrStdout(), reminder.NotifierFunc(func(reminder.Reminder) {}))
			id, err := a.session.Login(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			if quiet {
				fmt.Fprintln(cmd.OutOrStdout(), a.session.API.Token())
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", id.Name, id.Role)
			fmt.Fprintf(cmd.OutOrStdout(), "export EVENTMAN_TOKEN=%s\n", a.session.API.Token())
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email (defaults to email in the config)")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	cmd.Flags().BoolP("quiet", "q", false, "Print only the token")
	return cmd
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
