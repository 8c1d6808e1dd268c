package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/profile"
	"github.com/rigado/profile/adv"
	"github.com/rigado/profile/group"
	"github.com/rigado/profile/service"
	"github.com/rigado/profile/stack"
)

type command struct {
	usage string
	help  string
	run   func(sh *shell, svc *service.Service, args []string) error
}

var commands = map[string]command{
	"connect":    {"connect <addr>", "connect a device", cmdConnect},
	"disconnect": {"disconnect <addr>", "disconnect a device", cmdDisconnect},
	"devices":    {"devices", "list known devices and their state", cmdDevices},
	"policy":     {"policy <addr> [allowed|forbidden|unknown]", "show or set a connection policy", cmdPolicy},
	"active":     {"active [addr|none]", "show or set the active device", cmdActive},
	"groups":     {"groups", "list coordinated sets", cmdGroups},
	"lock":       {"lock <group>", "lock a coordinated set", cmdLock},
	"unlock":     {"unlock <uuid>", "release a lock", cmdUnlock},
	"vr":         {"vr <start|stop> <addr>", "control voice recognition", cmdVoice},
	"adv":        {"adv <addr> <hex>", "learn device services from advertising data", cmdAdv},
	"bond":       {"bond <addr> [uuid...]", "mark a device bonded", cmdBond},
	"unbond":     {"unbond <addr>", "remove the bond of a device", cmdUnbond},
	"quiet":      {"quiet <on|off>", "toggle adapter quiet mode", cmdQuiet},
	"inject":     {"inject <state|avail|member|lock|vr> ...", "inject a native event (loopback only)", cmdInject},
}

type shell struct {
	rl      *readline.Instance
	adapter *profile.StaticAdapter
	lb      *stack.Loopback
	locks   map[int]uuid.UUID
}

func newShell(svc *service.Service, adapter *profile.StaticAdapter, lb *stack.Loopback) (*shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          svc.ProfileID().String() + "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, errors.Wrap(err, "can't create readline")
	}
	sh := &shell{rl: rl, adapter: adapter, lb: lb, locks: make(map[int]uuid.UUID)}

	profile.SetLogOutput(rl.Stderr())
	svc.AddListener(service.ListenerFuncs{
		ConnectionStateChanged: func(addr profile.Addr, from, to profile.State) {
			sh.printf("[%v] %v -> %v\n", addr, from, to)
		},
		SetMemberAvailable: func(addr profile.Addr, groupID int) {
			sh.printf("[%v] set member of group %d\n", addr, groupID)
		},
		ActiveDeviceChanged: func(addr profile.Addr) {
			if addr == "" {
				addr = "none"
			}
			sh.printf("active device: %v\n", addr)
		},
		VoiceRecognitionChanged: func(addr profile.Addr, active bool) {
			sh.printf("[%v] voice recognition %v\n", addr, onOff(active))
		},
	})
	return sh, nil
}

func (sh *shell) Close() error {
	return sh.rl.Close()
}

func (sh *shell) out() io.Writer {
	return sh.rl.Stdout()
}

func (sh *shell) printf(format string, args ...interface{}) {
	fmt.Fprintf(sh.out(), format, args...)
}

// Run reads commands until EOF or quit.
func (sh *shell) Run(h *service.Holder) {
	defer sh.rl.Close()
	sh.printf("type help for a list of commands\n")

	for {
		line, err := sh.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return
		}

		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "quit", "exit", "q":
			return
		case "help", "?":
			sh.help()
			continue
		}

		cmd, ok := commands[args[0]]
		if !ok {
			sh.printf("unknown command %q\n", args[0])
			continue
		}
		svc, ok := h.Get()
		if !ok {
			sh.printf("service not running\n")
			return
		}
		if err := cmd.run(sh, svc, args[1:]); err != nil {
			sh.printf("%s: %v\n", args[0], err)
		}
	}
}

func (sh *shell) help() {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		c := commands[n]
		sh.printf("  %-45s %s\n", c.usage, c.help)
	}
	sh.printf("  %-45s %s\n", "quit", "leave the shell")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func needArgs(args []string, n int) error {
	if len(args) < n {
		return errors.Errorf("expected %d arguments, got %d", n, len(args))
	}
	return nil
}

func argAddr(args []string, i int) (profile.Addr, error) {
	if err := needArgs(args, i+1); err != nil {
		return "", err
	}
	return profile.ParseAddr(args[i])
}

func argInt(args []string, i int) (int, error) {
	if err := needArgs(args, i+1); err != nil {
		return 0, err
	}
	return strconv.Atoi(args[i])
}

func parseState(s string) (profile.State, error) {
	for st := profile.StateDisconnected; st <= profile.StateDisconnecting; st++ {
		if strings.EqualFold(s, st.String()) {
			return st, nil
		}
	}
	return 0, errors.Errorf("invalid state %q", s)
}

func parseUUID(s string) (uuid.UUID, error) {
	if len(s) == 4 {
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return uuid.Nil, err
		}
		return profile.UUID16(uint16(v)), nil
	}
	return uuid.Parse(s)
}

func cmdConnect(_ *shell, svc *service.Service, args []string) error {
	addr, err := argAddr(args, 0)
	if err != nil {
		return err
	}
	return svc.Connect(addr)
}

func cmdDisconnect(_ *shell, svc *service.Service, args []string) error {
	addr, err := argAddr(args, 0)
	if err != nil {
		return err
	}
	return svc.Disconnect(addr)
}

func cmdDevices(sh *shell, svc *service.Service, _ []string) error {
	active := svc.ActiveDevice()
	for _, a := range svc.Devices() {
		mark := ""
		if a == active {
			mark = " (active)"
		}
		p, err := svc.ConnectionPolicy(a)
		if err != nil {
			return err
		}
		sh.printf("  %v %-13v policy:%v bond:%v%s\n", a, svc.ConnectionState(a), p, sh.adapter.BondState(a), mark)
	}
	return nil
}

func cmdPolicy(sh *shell, svc *service.Service, args []string) error {
	addr, err := argAddr(args, 0)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		p, err := svc.ConnectionPolicy(addr)
		if err != nil {
			return err
		}
		sh.printf("%v: %v\n", addr, p)
		return nil
	}
	p, err := profile.ParsePolicy(args[1])
	if err != nil {
		return err
	}
	return svc.SetConnectionPolicy(addr, p)
}

func cmdActive(sh *shell, svc *service.Service, args []string) error {
	if len(args) == 0 {
		a := svc.ActiveDevice()
		if a == "" {
			a = "none"
		}
		sh.printf("%v\n", a)
		return nil
	}
	if args[0] == "none" {
		return svc.SetActiveDevice("")
	}
	addr, err := argAddr(args, 0)
	if err != nil {
		return err
	}
	return svc.SetActiveDevice(addr)
}

func cmdGroups(sh *shell, svc *service.Service, _ []string) error {
	for _, id := range svc.AllGroupIDs(profile.CAPContextUUID) {
		lock := ""
		if svc.IsGroupLocked(id) {
			lock = " locked"
		}
		sh.printf("  group %d size %d%s: %v\n", id, svc.DesiredGroupSize(id), lock, svc.GroupDevicesOrdered(id))
	}
	return nil
}

func cmdLock(sh *shell, svc *service.Service, args []string) error {
	id, err := argInt(args, 0)
	if err != nil {
		return err
	}
	u, status := svc.LockGroup(id, func(groupID int, s group.Status, locked bool) {
		sh.printf("group %d: %v locked:%v\n", groupID, s, locked)
	})
	if status != group.StatusSuccess {
		return errors.Errorf("lock refused: %v", status)
	}
	sh.locks[id] = u
	sh.printf("lock %v\n", u)
	return nil
}

func cmdUnlock(sh *shell, svc *service.Service, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}
	var u uuid.UUID
	if id, err := strconv.Atoi(args[0]); err == nil {
		u = sh.locks[id]
		delete(sh.locks, id)
	} else if u, err = uuid.Parse(args[0]); err != nil {
		return err
	}
	if !svc.UnlockGroup(u) {
		return errors.Errorf("no lock %v", u)
	}
	return nil
}

func cmdVoice(_ *shell, svc *service.Service, args []string) error {
	addr, err := argAddr(args, 1)
	if err != nil {
		return err
	}
	switch args[0] {
	case "start":
		return svc.StartVoiceRecognition(addr)
	case "stop":
		return svc.StopVoiceRecognition(addr)
	}
	return errors.Errorf("unknown vr action %q", args[0])
}

func cmdBond(sh *shell, _ *service.Service, args []string) error {
	addr, err := argAddr(args, 0)
	if err != nil {
		return err
	}
	uu := make([]uuid.UUID, 0, len(args)-1)
	for _, s := range args[1:] {
		u, err := parseUUID(s)
		if err != nil {
			return err
		}
		uu = append(uu, u)
	}
	sh.adapter.AddBondedDevice(addr, uu...)
	return nil
}

func cmdAdv(sh *shell, _ *service.Service, args []string) error {
	addr, err := argAddr(args, 0)
	if err != nil {
		return err
	}
	if err := needArgs(args, 2); err != nil {
		return err
	}
	b, err := hex.DecodeString(args[1])
	if err != nil {
		return err
	}
	d, err := adv.Parse(b)
	if err != nil {
		return err
	}
	sh.adapter.SetRemoteUUIDs(addr, d.Services...)
	sh.printf("%v %q: %v\n", addr, d.LocalName, d.Services)
	return nil
}

func cmdUnbond(sh *shell, svc *service.Service, args []string) error {
	addr, err := argAddr(args, 0)
	if err != nil {
		return err
	}
	sh.adapter.SetBondState(addr, profile.BondNone)
	svc.OnBondStateChanged(addr, profile.BondNone)
	return nil
}

func cmdQuiet(sh *shell, _ *service.Service, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}
	sh.adapter.SetQuietMode(args[0] == "on")
	return nil
}

func cmdInject(sh *shell, _ *service.Service, args []string) error {
	if sh.lb == nil {
		return errors.New("native stack is not the loopback")
	}
	if err := needArgs(args, 1); err != nil {
		return err
	}
	e, err := parseEvent(args[0], args[1:])
	if err != nil {
		return err
	}
	return sh.lb.Inject(e)
}

func parseEvent(kind string, args []string) (stack.Event, error) {
	switch kind {
	case "state":
		addr, err := argAddr(args, 0)
		if err != nil {
			return stack.Event{}, err
		}
		if err := needArgs(args, 2); err != nil {
			return stack.Event{}, err
		}
		st, err := parseState(args[1])
		if err != nil {
			return stack.Event{}, err
		}
		return stack.NewConnectionStateEvent(addr, st), nil

	case "avail":
		addr, err := argAddr(args, 0)
		if err != nil {
			return stack.Event{}, err
		}
		var v [3]int
		for i := range v {
			if v[i], err = argInt(args, i+1); err != nil {
				return stack.Event{}, err
			}
		}
		return stack.NewDeviceAvailableEvent(addr, v[0], v[1], v[2], profile.CAPContextUUID), nil

	case "member":
		addr, err := argAddr(args, 0)
		if err != nil {
			return stack.Event{}, err
		}
		id, err := argInt(args, 1)
		if err != nil {
			return stack.Event{}, err
		}
		return stack.NewSetMemberAvailableEvent(addr, id), nil

	case "lock":
		id, err := argInt(args, 0)
		if err != nil {
			return stack.Event{}, err
		}
		status, err := argInt(args, 1)
		if err != nil {
			return stack.Event{}, err
		}
		if err := needArgs(args, 3); err != nil {
			return stack.Event{}, err
		}
		return stack.NewGroupLockChangedEvent(id, stack.LockStatus(status), args[2] == "on"), nil

	case "vr":
		addr, err := argAddr(args, 0)
		if err != nil {
			return stack.Event{}, err
		}
		if err := needArgs(args, 2); err != nil {
			return stack.Event{}, err
		}
		return stack.NewVoiceRecognitionEvent(addr, args[1] == "on"), nil
	}
	return stack.Event{}, errors.Errorf("unknown event %q", kind)
}
