package cmd

import (
	"github.com/spf13/cobra"

	"pipeserve/pkg/config"
)

// configFlags reads the config-related flags of cmd, recording which were
// set explicitly so they win over file and environment values.
func configFlags(cmd *cobra.Command) config.Flags {
	f := config.Flags{Set: map[string]bool{}}
	read := func(name string, dst *string) {
		fl := cmd.Flags().Lookup(name)
		if fl == nil {
			return
		}
		*dst = fl.Value.String()
		f.Set[name] = fl.Changed
	}
	read("config", &f.Config)
	read("addr", &f.Addr)
	read("db", &f.DB)
	read("engine", &f.Engine)
	return f
}

func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().String("addr", "", "listen address host:port")
	cmd.Flags().String("db", "", "pebble database directory (empty keeps data in memory)")
	cmd.Flags().String("engine", "", "http engine: fasthttp or nethttp")
}
