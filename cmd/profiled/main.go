package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/rigado/profile"
	"github.com/rigado/profile/link"
	"github.com/rigado/profile/policy"
	"github.com/rigado/profile/service"
	"github.com/rigado/profile/stack"
	"github.com/urfave/cli"
)

var (
	flgConfig   = cli.StringFlag{Name: "config, c", Usage: "YAML config file"}
	flgLogLevel = cli.StringFlag{Name: "log-level, l", Usage: "override the configured log level"}
	flgProfile  = cli.StringFlag{Name: "profile, p", Usage: "override the configured profile"}
)

func main() {
	app := cli.NewApp()

	app.Name = "profiled"
	app.Usage = "Run a Bluetooth profile service"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{flgConfig, flgLogLevel, flgProfile}
	app.Action = cli.ShowAppHelp

	app.Commands = []cli.Command{
		{
			Name:    "run",
			Aliases: []string{"r"},
			Usage:   "Start the service and enter the interactive shell",
			Action:  run,
		},
		{
			Name:  "policy",
			Usage: "Read or write stored connection policies",
			Subcommands: []cli.Command{
				{
					Name:      "get",
					Usage:     "Print the policy of a device",
					ArgsUsage: "<addr>",
					Action:    policyGet,
				},
				{
					Name:      "set",
					Usage:     "Store the policy of a device",
					ArgsUsage: "<addr> <allowed|forbidden|unknown>",
					Action:    policySet,
				},
			},
		},
		{
			Name:  "sim",
			Usage: "Serve a simulated native stack over a socket",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "listen", Value: "127.0.0.1:7070", Usage: "tcp address, or path of a unix socket"},
				cli.StringSliceFlag{Name: "member, m", Usage: "address announced as a coordinated set member"},
			},
			Action: sim,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (profile.Config, error) {
	cfg := profile.DefaultConfig()
	if path := c.GlobalString("config"); path != "" {
		var err error
		if cfg, err = profile.LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	if p := c.GlobalString("profile"); p != "" {
		cfg.Profile = p
	}
	if l := c.GlobalString("log-level"); l != "" {
		cfg.LogLevel = l
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "invalid config")
	}
	if err := profile.SetLogLevel(cfg.LogLevel); err != nil {
		return cfg, errors.Wrap(err, "invalid log level")
	}
	return cfg, nil
}

func openNative(cfg profile.NativeConfig) (stack.Native, *stack.Loopback, error) {
	if cfg.Transport == "loopback" {
		lb := stack.NewLoopback(stack.LoopbackAutoAnswer(true))
		return lb, lb, nil
	}
	l, err := link.Open(cfg)
	if err != nil {
		return nil, nil, errors.Wrap(err, "can't open native link")
	}
	return l, nil, nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	id, err := cfg.ProfileID()
	if err != nil {
		return err
	}

	store, err := policy.Open(cfg.Store)
	if err != nil {
		return errors.Wrap(err, "can't open policy store")
	}
	native, lb, err := openNative(cfg.Native)
	if err != nil {
		store.Close()
		return err
	}

	adapter := profile.NewStaticAdapter()
	svc, err := service.New(id, native, store, profile.OptConfig(cfg), profile.OptAdapter(adapter))
	if err != nil {
		store.Close()
		return errors.Wrap(err, "can't create service")
	}

	sh, err := newShell(svc, adapter, lb)
	if err != nil {
		store.Close()
		return err
	}

	var h service.Holder
	if err := h.Init(svc); err != nil {
		sh.Close()
		return errors.Wrap(err, "can't start service")
	}
	defer h.Teardown()

	sh.Run(&h)
	return nil
}

func policyArgs(c *cli.Context, n int) (profile.Config, profile.Addr, error) {
	if c.NArg() != n {
		return profile.Config{}, "", errors.Errorf("expected %d arguments", n)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cfg, "", err
	}
	addr, err := profile.ParseAddr(c.Args().First())
	return cfg, addr, err
}

func policyGet(c *cli.Context) error {
	cfg, addr, err := policyArgs(c, 1)
	if err != nil {
		return err
	}
	id, err := cfg.ProfileID()
	if err != nil {
		return err
	}
	store, err := policy.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	p, err := store.ConnectionPolicy(addr, id)
	if err != nil {
		return err
	}
	st, ok, err := store.LastConnectionState(addr, id)
	if err != nil {
		return err
	}
	if ok {
		fmt.Printf("%v %v: %v (last %v)\n", addr, id, p, st)
	} else {
		fmt.Printf("%v %v: %v\n", addr, id, p)
	}
	return nil
}

func policySet(c *cli.Context) error {
	cfg, addr, err := policyArgs(c, 2)
	if err != nil {
		return err
	}
	id, err := cfg.ProfileID()
	if err != nil {
		return err
	}
	p, err := profile.ParsePolicy(c.Args().Get(1))
	if err != nil {
		return err
	}
	store, err := policy.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.SetConnectionPolicy(addr, id, p)
}
