package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/fx"

	"github.com/matheus3301/confchat/internal/daemon"
	"github.com/matheus3301/confchat/internal/profile"
)

func main() {
	profileFlag := pflag.StringP("profile", "p", "", "profile name (overrides config default)")
	conferenceFlag := pflag.Int64("conference", 0, "conference id (overrides config conference_id)")
	pflag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: name, ConferenceID: *conferenceFlag}),
	)

	app.Run()
}
