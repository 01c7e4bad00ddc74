package cli

import (
	"github.com/spf13/pflag"
)

// addBypassFlag registers --bypass, the plugins skipped by every hook
func addBypassFlag(flags *pflag.FlagSet, bypass *[]string) {
	flags.StringSliceVarP(bypass, "bypass", "b", nil, "plugin names to skip (comma-separated or repeated)")
}

// addParamFlag registers --param, the parameters handed to actions
func addParamFlag(flags *pflag.FlagSet, params *[]string) {
	flags.StringArrayVarP(params, "param", "p", nil, "action parameter (repeatable, order is kept)")
}
