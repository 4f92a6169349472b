package main

import (
	"strings"

	"github.com/spf13/pflag"

	"github.com/opd-ai/qft/codec"
)

// modeValue adapts codec.Mode to pflag.Value.
type modeValue codec.Mode

var _ pflag.Value = (*modeValue)(nil)

func newModeValue(val codec.Mode, p *codec.Mode) *modeValue {
	*p = val
	return (*modeValue)(p)
}

func (m *modeValue) Set(s string) error {
	mode, err := codec.ParseMode(s)
	if err != nil {
		return err
	}
	*m = modeValue(mode)
	return nil
}

func (m *modeValue) String() string { return codec.Mode(*m).String() }

func (m *modeValue) Type() string { return "mode" }

func compressionUsage() string {
	return "Compression mode (" + strings.Join(codec.Names(), ", ") + ")"
}

// splitUserHost splits "user@host" into its parts. The user is empty when s
// has no '@'.
func splitUserHost(s string) (user, host string) {
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return "", s
}
