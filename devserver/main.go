package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/docopt/docopt-go"

	"github.com/golang/glog"
)

const DevServerVersion = "0.1.0"

// local stand-in for the hosted backend. speaks the same row api and
// change feed the client uses, with everything held in memory.
func main() {
	usage := `List sync development backend.

Usage:
    devserver serve [--port=<port>] [--email=<email>] [--password=<password>]
        [--jwt_secret=<jwt_secret>]

Options:
    -h --help                Show this screen.
    --version                Show version.
    -p --port=<port>         Listen port [default: 54321].
    --email=<email>          Seed account email [default: dev@localhost].
    --password=<password>    Seed account password [default: devpassword].
    --jwt_secret=<jwt_secret>  Token signing secret [default: dev-secret].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], DevServerVersion)
	if err != nil {
		panic(err)
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	}
}

func serve(opts docopt.Opts) {
	port, _ := opts.Int("--port")
	email, _ := opts.String("--email")
	password, _ := opts.String("--password")
	jwtSecret, _ := opts.String("--jwt_secret")

	server := newDevServer(jwtSecret)
	if err := server.AddUser(email, password); err != nil {
		glog.Errorf("[dev]seed user error = %s\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	glog.Infof("[dev]listening on %s (user %s)\n", addr, email)
	if err := http.ListenAndServe(addr, server.Router()); err != nil {
		glog.Errorf("[dev]serve error = %s\n", err)
		os.Exit(1)
	}
}
