package cmd

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	hex "github.com/tmthrgd/go-hex"

	"github.com/xuperchain/capkernel/kernel/common/xconfig"
	"github.com/xuperchain/capkernel/kernel/dispatch"
	"github.com/xuperchain/capkernel/kernel/endpoint"
	"github.com/xuperchain/capkernel/kernel/host/memhost"
	"github.com/xuperchain/capkernel/lib/logs"
	"github.com/xuperchain/capkernel/lib/storage/kvdb"
	// kv engines selectable in the kernel config
	_ "github.com/xuperchain/capkernel/lib/storage/kvdb/badger"
	_ "github.com/xuperchain/capkernel/lib/storage/kvdb/leveldb"
)

type RunCmd struct {
	BaseCmd
}

func GetRunCmd() *RunCmd {
	runCmdIns := new(RunCmd)

	var confPath, manifestPath, logDir string

	runCmdIns.cmd = &cobra.Command{
		Use:           "run",
		Short:         "Deploy a manifest on the in-memory host and invoke the kernel once.",
		Example:       "capkernel run --conf conf/kernel.yaml --manifest example/manifest.yaml",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadKernelConf(confPath)
			if err != nil {
				return err
			}
			logConf := ""
			if confPath != "" {
				logConf = filepath.Join(filepath.Dir(confPath), conf.LogConf)
			}
			if err := logs.InitLog(logConf, logDir); err != nil {
				return err
			}

			m, err := LoadManifest(manifestPath)
			if err != nil {
				return err
			}
			return RunManifest(context.Background(), cmd.OutOrStdout(), conf, m)
		},
	}

	runCmdIns.cmd.Flags().StringVarP(&confPath, "conf", "c", "", "kernel config file path")
	runCmdIns.cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "manifest file path")
	runCmdIns.cmd.Flags().StringVar(&logDir, "logdir", "", "log directory, logs go to stderr when empty")

	return runCmdIns
}

func loadKernelConf(path string) (*xconfig.KernelConf, error) {
	if path == "" {
		return xconfig.GetDefKernelConf(), nil
	}
	return xconfig.LoadKernelConf(path)
}

// scripted turns the steps of p into a procedure that issues them in order
// and stops at the first fatal error.
func scripted(w io.Writer, m *Manifest, p ProcedureSpec) memhost.Procedure {
	return func(f *memhost.Frame) ([]byte, error) {
		var last []byte
		for i, step := range p.Steps {
			req, raw, err := step.Request(m)
			if err != nil {
				return nil, fmt.Errorf("%s step %d: %v", p.Name, i, err)
			}
			var out []byte
			if req == nil {
				out, err = f.SyscallRaw(raw)
			} else {
				out, err = f.Syscall(req)
			}
			if err != nil {
				fmt.Fprintf(w, "%s\tstep %d\t%s\tfailed: %v\n", p.Name, i, step.Kind, err)
				return nil, err
			}
			fmt.Fprintf(w, "%s\tstep %d\t%s\tout=%s\n", p.Name, i, step.Kind, hex.EncodeToString(out))
			last = out
		}
		return last, nil
	}
}

// RunManifest builds a kernel on an in-memory host, deploys the manifest
// through the ABI endpoint and invokes the entry procedure once.
func RunManifest(ctx context.Context, w io.Writer, conf *xconfig.KernelConf, m *Manifest) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := kvdb.CreateKVInstance(conf.KVParameter())
	if err != nil {
		return err
	}
	defer db.Close()

	h := memhost.New()
	k, err := dispatch.NewKernel(conf, db, h)
	if err != nil {
		return err
	}
	h.Attach(k)
	ep, err := endpoint.New(k)
	if err != nil {
		return err
	}

	for _, p := range m.Procedures {
		code, err := decodeHex(p.Code)
		if err != nil {
			return fmt.Errorf("procedure %s: bad code", p.Name)
		}
		h.Deploy(common.HexToAddress(p.Address), code, scripted(w, m, p))
	}
	for _, acc := range m.Accounts {
		addr := common.HexToAddress(acc)
		h.SetAccount(addr, func(value *uint256.Int, input []byte) ([]byte, error) {
			fmt.Fprintf(w, "account %s\tvalue=%s\tinput=%s\n", addr.Hex(), value.ToBig(), hex.EncodeToString(input))
			return input, nil
		})
	}

	entry, err := m.procedure(m.Entry)
	if err != nil {
		return err
	}
	caps, err := entry.CapList()
	if err != nil {
		return err
	}
	words := caps.Words()
	ints := make([]*big.Int, len(words))
	for i, word := range words {
		ints[i] = word.Big()
	}
	ctorInput, err := ep.ABI().Pack("", entry.Name, common.HexToAddress(entry.Address), ints)
	if err != nil {
		return err
	}
	if err := ep.Deploy(ctorInput); err != nil {
		return err
	}

	input, err := decodeHex(m.Input)
	if err != nil {
		return fmt.Errorf("bad input %q", m.Input)
	}
	h.SetGas(m.Gas)
	out, err := ep.Call(ctx, input)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "output\t%s\ngas used\t%d\n", hex.EncodeToString(out), m.Gas-h.GasLeft())

	printState(w, h, m)
	return nil
}

func printState(w io.Writer, h *memhost.Host, m *Manifest) {
	slots := h.Slots()
	fmt.Fprintf(w, "storage\t%d slots (%s)\n", len(slots), units.HumanSize(float64(len(slots)*2*common.HashLength)))
	for _, s := range slots {
		fmt.Fprintf(w, "  %s = %s\n", s.Key.Hex(), s.Value.Hex())
	}

	emitted := h.Logs()
	fmt.Fprintf(w, "logs\t%d\n", len(emitted))
	for _, l := range emitted {
		topics := make([]string, len(l.Topics))
		for i := range l.Topics {
			topics[i] = l.Topics[i].Hex()
		}
		fmt.Fprintf(w, "  topics=%v data=%s\n", topics, hex.EncodeToString(l.Data))
	}

	for _, p := range m.Procedures {
		size := h.CodeSize(common.HexToAddress(p.Address))
		fmt.Fprintf(w, "code\t%s\t%s\n", p.Name, units.HumanSize(float64(size)))
	}
}
