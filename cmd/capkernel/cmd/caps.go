package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	hex "github.com/tmthrgd/go-hex"

	"github.com/xuperchain/capkernel/kernel/capability"
)

type capsCmd struct {
	BaseCmd
}

func GetCapsCmd() *capsCmd {
	capsCmdIns := new(capsCmd)

	capsCmdIns.cmd = &cobra.Command{
		Use:   "caps",
		Short: "Inspect encoded capability lists.",
	}
	capsCmdIns.cmd.AddCommand(getCapsDecodeCmd())

	return capsCmdIns
}

func getCapsDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "decode <hex>...",
		Short:   "Decode capability list words.",
		Long:    "Each argument is one word, short words are left padded. A single argument longer than one word is split into words.",
		Example: "capkernel caps decode 0x03 0x06",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			words, err := parseWords(args)
			if err != nil {
				return err
			}
			list, err := capability.DecodeList(words)
			if err != nil {
				return err
			}
			printCaps(cmd.OutOrStdout(), list)
			return nil
		},
	}
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

func parseWords(args []string) ([]common.Hash, error) {
	words := make([]common.Hash, 0, len(args))
	for _, arg := range args {
		raw, err := decodeHex(arg)
		if err != nil {
			return nil, fmt.Errorf("bad word %q.err:%v", arg, err)
		}
		if len(raw) <= common.HashLength {
			words = append(words, common.BytesToHash(raw))
			continue
		}
		if len(raw)%common.HashLength != 0 {
			return nil, fmt.Errorf("bad word %q: %d bytes is not a whole number of words", arg, len(raw))
		}
		for i := 0; i < len(raw); i += common.HashLength {
			words = append(words, common.BytesToHash(raw[i:i+common.HashLength]))
		}
	}
	return words, nil
}

func describe(c capability.Capability) string {
	switch v := c.(type) {
	case capability.ProcedureCall:
		return describePrefix(v.KeyPrefix)
	case capability.ProcedureRegister:
		return describePrefix(v.KeyPrefix)
	case capability.ProcedureDelete:
		return describePrefix(v.KeyPrefix)
	case capability.StoreWrite:
		return fmt.Sprintf("location=%#x size=%#x", v.Location.ToBig(), v.Size.ToBig())
	case capability.Log:
		topics := make([]string, 0, v.Topics)
		for i := 0; i < int(v.Topics); i++ {
			topics = append(topics, v.Pinned[i].Hex())
		}
		return fmt.Sprintf("topics=[%s]", strings.Join(topics, ","))
	case capability.AccountCall:
		target := v.Address.Hex()
		if v.CallAny {
			target = "any"
		}
		return fmt.Sprintf("address=%s send=%v", target, v.CanSend)
	}
	return ""
}

func describePrefix(p capability.KeyPrefix) string {
	return fmt.Sprintf("prefix=%d key=%q", p.Prefix, p.Key.Name())
}

func printCaps(w io.Writer, list capability.List) {
	for i, c := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\n", i, c.Type(), describe(c))
	}
}
