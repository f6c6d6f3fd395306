package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/docopt/docopt-go"

	"golang.org/x/term"

	"github.com/homelist/listsync/listsync"
)

const HomeListVersion = "0.1.0"

// terminal front-end for the task and shopping lists. every edit goes
// through the list controllers, so what the screen shows is always the
// controller's mirror of the server.
func main() {
	usage := `Home list.

The api url and keys can also come from the environment:
    LISTSYNC_API_URL, LISTSYNC_ANON_KEY, LISTSYNC_TOKEN

Usage:
    homelist [--api_url=<api_url>] [--anon_key=<anon_key>] [--token=<token>]
        [--email=<email>] [--password=<password>]

Options:
    -h --help                Show this screen.
    --version                Show version.
    --api_url=<api_url>
    --anon_key=<anon_key>
    --token=<token>          Access token from a previous sign-in.
    --email=<email>          Sign in with email and password.
    --password=<password>    Prompted for when omitted.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], HomeListVersion)
	if err != nil {
		panic(err)
	}

	apiUrl, _ := opts.String("--api_url")
	if apiUrl == "" {
		apiUrl = os.Getenv("LISTSYNC_API_URL")
	}
	if apiUrl == "" {
		fmt.Fprintln(os.Stderr, "Missing --api_url (or LISTSYNC_API_URL).")
		os.Exit(1)
	}
	anonKey, _ := opts.String("--anon_key")
	if anonKey == "" {
		anonKey = os.Getenv("LISTSYNC_ANON_KEY")
	}

	client := listsync.NewClient(context.Background(), listsync.DefaultClientSettings(apiUrl, anonKey))
	defer client.Close()

	if err := signIn(client, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Sign in failed (%s).\n", err)
		os.Exit(1)
	}

	tasks := client.NewTaskController()
	defer tasks.Close()
	shopping := client.NewShoppingController()
	defer shopping.Close()

	program := tea.NewProgram(newModel(tasks, shopping), tea.WithAltScreen())

	// push store changes and surfaced errors into the update loop
	tasks.AddChangeCallback(func() {
		program.Send(storeChangedMsg{})
	})
	shopping.AddChangeCallback(func() {
		program.Send(storeChangedMsg{})
	})
	onError := func(message string) {
		program.Send(syncErrorMsg{message: message})
	}
	tasks.AddErrorCallback(onError)
	shopping.AddErrorCallback(onError)

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func signIn(client *listsync.Client, opts docopt.Opts) error {
	token, _ := opts.String("--token")
	if token == "" {
		token = os.Getenv("LISTSYNC_TOKEN")
	}
	if token != "" {
		_, err := client.Auth().SetAccessToken(token)
		return err
	}

	email, _ := opts.String("--email")
	if email == "" {
		return fmt.Errorf("no token and no email")
	}
	password, _ := opts.String("--password")
	if password == "" {
		fmt.Print("Password: ")
		passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return err
		}
		password = string(passwordBytes)
	}

	_, err := client.Auth().SignInWithPasswordSync(email, password)
	return err
}
