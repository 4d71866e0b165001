// Package profile provides a mechanism to build a bsprt World from a
// shared configuration, the way package sliceconfig lets a bigslice
// driver build a *exec.Session from a shared profile. Profile uses
// the same configuration mechanism, github.com/grailbio/base/config,
// and reads a default profile from $HOME/.bsprt/config. Configurations
// may name either the in-process local group (for development and
// tests) or a bigmachine system (for a real distributed run).
package profile

import (
	"context"
	"flag"
	"os"

	"github.com/bspkit/bsprt"
	"github.com/bspkit/bsprt/engine"
	"github.com/bspkit/bsprt/transport/local"
	"github.com/bspkit/bsprt/transport/machine"
	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"

	// Used to provide ec2system.System bigmachines, the same way
	// sliceconfig.go blank-imports it so a profile can select an
	// EC2-backed group without this package writing any AWS code.
	_ "github.com/grailbio/bigmachine/ec2system"
	"github.com/grailbio/bigmachine"
)

// Path determines the location of the bsprt profile read by Parse.
var Path = os.ExpandEnv("$HOME/.bsprt/config")

// runConfig holds the fields a "bsprt" profile instance fills in; see
// the config.Register call below.
type runConfig struct {
	peers  int
	strict bool
	system bigmachine.System
}

func init() {
	config.Register("bsprt", func(inst *config.Constructor) {
		var c runConfig
		inst.IntVar(&c.peers, "peers", 4, "number of peers in the process group")
		inst.BoolVar(&c.strict, "strict-self", false, "use strict BSP visibility for self-addressed put/get instead of the immediate-copy shortcut")
		inst.InstanceVar(&c.system, "system", "", "the bigmachine system used for a distributed run; omit to use an in-process local group")
		inst.Doc = "bsprt configures the BSP runtime's process group and transport"
		inst.New = func() (interface{}, error) {
			return &c, nil
		}
	})
}

// Parse registers configuration flags and calls flag.Parse, then
// builds a World (for an in-process local group) or a
// *machine.Group (for a bigmachine-backed run) from the profile at
// Path. Parse panics if construction fails, matching sliceconfig.Parse.
//
// For a local group, Parse returns one World per peer, since all
// peers run as goroutines in this process; for a machine-backed
// group, the caller should use Group.Run to dispatch a registered
// Program to every peer instead.
//
// The strict-self setting applies only to a local group; the Worlds
// that machine-backed peers build in Peer.Run always use the Shortcut
// self mode.
func Parse(ctx context.Context) (worlds []*bsprt.World, group *machine.Group, shutdown func()) {
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
	var c *runConfig
	config.Must("bsprt", &c)

	mode := engine.Shortcut
	if c.strict {
		mode = engine.Strict
	}
	opt := bsprt.WithSelfMode(mode)

	if c.system == nil {
		g := local.NewGroup(c.peers)
		worlds = make([]*bsprt.World, c.peers)
		for i := range worlds {
			worlds[i] = bsprt.NewWorld(g.Peer(i), opt)
		}
		return worlds, nil, func() {}
	}

	grp, err := machine.Start(ctx, c.system, c.peers)
	must.Nil(err)
	return nil, grp, grp.Shutdown
}
