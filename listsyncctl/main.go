package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/homelist/listsync/listsync"
)

const ListSyncCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `List sync control.

The api url and keys can also come from the environment:
    LISTSYNC_API_URL, LISTSYNC_ANON_KEY, LISTSYNC_TOKEN

Usage:
    listsyncctl sign-in [--api_url=<api_url>] [--anon_key=<anon_key>]
        --email=<email> [--password=<password>]
    listsyncctl tasks ls [options]
    listsyncctl tasks add [options] <title>...
    listsyncctl tasks done [options] <index>
    listsyncctl tasks rm [options] <index>
    listsyncctl shop ls [options]
    listsyncctl shop add [options] <name>...
    listsyncctl shop done [options] <index>
    listsyncctl shop inc [options] <index>
    listsyncctl shop dec [options] <index>
    listsyncctl shop rm [options] <index>
    listsyncctl watch [options] <collection>

Options:
    -h --help                Show this screen.
    --version                Show version.
    --api_url=<api_url>
    --anon_key=<anon_key>
    --token=<token>          Access token from sign-in.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ListSyncCtlVersion)
	if err != nil {
		panic(err)
	}

	if signIn_, _ := opts.Bool("sign-in"); signIn_ {
		signIn(opts)
	} else if tasks_, _ := opts.Bool("tasks"); tasks_ {
		tasks(opts)
	} else if shop_, _ := opts.Bool("shop"); shop_ {
		shop(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	}
}

func clientSettings(opts docopt.Opts) *listsync.ClientSettings {
	apiUrl, _ := opts.String("--api_url")
	if apiUrl == "" {
		apiUrl = os.Getenv("LISTSYNC_API_URL")
	}
	if apiUrl == "" {
		Err.Fatal("Missing --api_url (or LISTSYNC_API_URL).")
	}
	anonKey, _ := opts.String("--anon_key")
	if anonKey == "" {
		anonKey = os.Getenv("LISTSYNC_ANON_KEY")
	}
	return listsync.DefaultClientSettings(apiUrl, anonKey)
}

func newClient(opts docopt.Opts) *listsync.Client {
	client := listsync.NewClient(context.Background(), clientSettings(opts))

	token, _ := opts.String("--token")
	if token == "" {
		token = os.Getenv("LISTSYNC_TOKEN")
	}
	if token != "" {
		if _, err := client.Auth().SetAccessToken(token); err != nil {
			Err.Fatalf("Invalid token (%s).", err)
		}
	}
	return client
}

func signIn(opts docopt.Opts) {
	email, _ := opts.String("--email")
	password, _ := opts.String("--password")
	if password == "" {
		fmt.Print("Password: ")
		passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			Err.Fatalf("Could not read password (%s).", err)
		}
		password = string(passwordBytes)
	}

	client := listsync.NewClient(context.Background(), clientSettings(opts))
	defer client.Close()

	session, err := client.Auth().SignInWithPasswordSync(email, password)
	if err != nil {
		Err.Fatalf("Sign in failed (%s).", err)
	}
	Out.Printf("export LISTSYNC_TOKEN=%s", session.AccessToken)
}

func tasks(opts docopt.Opts) {
	client := newClient(opts)
	defer client.Close()

	controller := client.NewTaskController()
	defer controller.Close()
	if err := controller.Refresh(); err != nil {
		Err.Fatalf("Fetch failed (%s).", err)
	}

	if ls_, _ := opts.Bool("ls"); ls_ {
		for i, task := range controller.Items() {
			Out.Printf("%2d. %s %s", i+1, box(task.Completed), task.Title)
		}
	} else if add_, _ := opts.Bool("add"); add_ {
		title := strings.Join(stringList(opts, "<title>"), " ")
		task, err := controller.Add(map[string]any{"title": title})
		if err != nil {
			Err.Fatalf("Add failed (%s).", err)
		}
		Out.Printf("added %s", task.TaskId)
	} else if done_, _ := opts.Bool("done"); done_ {
		task := itemAt(controller.Items(), opts)
		if err := controller.Toggle(task.TaskId); err != nil {
			Err.Fatalf("Toggle failed (%s).", err)
		}
	} else if rm_, _ := opts.Bool("rm"); rm_ {
		task := itemAt(controller.Items(), opts)
		if err := controller.Remove(task.TaskId); err != nil {
			Err.Fatalf("Remove failed (%s).", err)
		}
	}
}

func shop(opts docopt.Opts) {
	client := newClient(opts)
	defer client.Close()

	controller := client.NewShoppingController()
	defer controller.Close()
	if err := controller.Refresh(); err != nil {
		Err.Fatalf("Fetch failed (%s).", err)
	}

	if ls_, _ := opts.Bool("ls"); ls_ {
		for i, item := range controller.Items() {
			Out.Printf("%2d. %s %s x%d", i+1, box(item.Completed), item.Name, item.ItemQuantity())
		}
	} else if add_, _ := opts.Bool("add"); add_ {
		name := strings.Join(stringList(opts, "<name>"), " ")
		item, err := controller.Add(map[string]any{"name": name})
		if err != nil {
			Err.Fatalf("Add failed (%s).", err)
		}
		Out.Printf("added %s", item.ShoppingItemId)
	} else if done_, _ := opts.Bool("done"); done_ {
		item := itemAt(controller.Items(), opts)
		if err := controller.Toggle(item.ShoppingItemId); err != nil {
			Err.Fatalf("Toggle failed (%s).", err)
		}
	} else if inc_, _ := opts.Bool("inc"); inc_ {
		item := itemAt(controller.Items(), opts)
		if err := listsync.AdjustQuantity(controller, item.ShoppingItemId, 1); err != nil {
			Err.Fatalf("Quantity change failed (%s).", err)
		}
	} else if dec_, _ := opts.Bool("dec"); dec_ {
		item := itemAt(controller.Items(), opts)
		if err := listsync.AdjustQuantity(controller, item.ShoppingItemId, -1); err != nil {
			Err.Fatalf("Quantity change failed (%s).", err)
		}
	} else if rm_, _ := opts.Bool("rm"); rm_ {
		item := itemAt(controller.Items(), opts)
		if err := controller.Remove(item.ShoppingItemId); err != nil {
			Err.Fatalf("Remove failed (%s).", err)
		}
	}
}

// stream the live change feed for a collection until interrupted
func watch(opts docopt.Opts) {
	collection, _ := opts.String("<collection>")
	if collection != listsync.TaskCollection && collection != listsync.ShoppingItemCollection {
		Err.Fatalf("Unknown collection %s.", collection)
	}

	settings := clientSettings(opts)

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subscriber := listsync.NewRealtimeSubscriberWithDefaults(
		cancelCtx,
		settings.RealtimeUrl,
		settings.AnonKey,
		collection,
		func(event *listsync.ChangeEvent) {
			Out.Printf("%s %s %s", event.Kind, string(event.Record), string(event.OldRecord))
		},
	)
	defer subscriber.Close()

	Out.Printf("watching %s (channel %s)", collection, subscriber.ChannelName())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

func itemAt[T any](items []T, opts docopt.Opts) T {
	indexStr, _ := opts.String("<index>")
	index, err := strconv.Atoi(indexStr)
	if err != nil || index < 1 || len(items) < index {
		Err.Fatalf("Index out of range: have %d, got %s.", len(items), indexStr)
	}
	return items[index-1]
}

func stringList(opts docopt.Opts, key string) []string {
	if value, ok := opts[key]; ok {
		if list, ok := value.([]string); ok {
			return list
		}
	}
	return nil
}

func box(completed bool) string {
	if completed {
		return "[x]"
	}
	return "[ ]"
}
