package main

import (
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rigado/profile"
	"github.com/rigado/profile/link"
	"github.com/rigado/profile/stack"
	"github.com/urfave/cli"
)

// sim serves one host at a time. Commands are answered by an auto answering
// loopback whose events are written back over the link.
func sim(c *cli.Context) error {
	if _, err := loadConfig(c); err != nil {
		return err
	}
	var members []profile.Addr
	for _, s := range c.StringSlice("member") {
		a, err := profile.ParseAddr(s)
		if err != nil {
			return err
		}
		members = append(members, a)
	}

	address := c.String("listen")
	network := "tcp"
	if strings.HasPrefix(address, "/") {
		network = "unix"
		os.Remove(address)
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return errors.Wrapf(err, "listen %s", address)
	}
	defer ln.Close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		ln.Close()
	}()

	log := profile.GetLogger().ChildLogger(map[string]interface{}{"component": "sim"})
	log.Infof("listening on %s %s", network, address)
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Infof("stopped: %v", err)
			return nil
		}
		log.Infof("host %v connected", conn.RemoteAddr())
		if err := serveHost(conn, members, log); err != nil && errors.Cause(err) != io.EOF {
			log.Warnf("host %v: %v", conn.RemoteAddr(), err)
		}
		conn.Close()
	}
}

func serveHost(conn net.Conn, members []profile.Addr, log profile.Logger) error {
	peer := link.NewPeer(conn)
	lb := stack.NewLoopback(stack.LoopbackAutoAnswer(true))
	if err := lb.Init(func(e stack.Event) {
		if err := peer.SendEvent(e); err != nil {
			log.Debugf("dropping %v: %v", e, err)
		}
	}); err != nil {
		return err
	}
	defer lb.Cleanup()

	for i, a := range members {
		e := stack.NewDeviceAvailableEvent(a, 1, len(members), i+1, profile.CAPContextUUID)
		if err := lb.Inject(e); err != nil {
			return err
		}
	}

	for {
		cmd, err := peer.ReadCommand()
		if err != nil {
			return err
		}
		log.Debugf("command %v %v", cmd.Op, cmd.Device)

		switch cmd.Op {
		case stack.OpConnect:
			err = lb.Connect(cmd.Device)
		case stack.OpDisconnect:
			err = lb.Disconnect(cmd.Device)
		case stack.OpSetLock:
			err = lb.SetLock(cmd.GroupID, cmd.Lock)
		case stack.OpStartVoiceRecognition:
			err = lb.StartVoiceRecognition(cmd.Device)
		case stack.OpStopVoiceRecognition:
			err = lb.StopVoiceRecognition(cmd.Device)
		default:
			err = errors.Errorf("unknown op %v", cmd.Op)
		}
		if err != nil {
			log.Warnf("command %v: %v", cmd.Op, err)
		}
	}
}
