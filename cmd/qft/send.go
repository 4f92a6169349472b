package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/qft"
	"github.com/opd-ai/qft/codec"
	"github.com/opd-ai/qft/config"
	"github.com/opd-ai/qft/discovery"
	"github.com/opd-ai/qft/observer"
	"github.com/opd-ai/qft/remote"
	"github.com/opd-ai/qft/source"
	"github.com/opd-ai/qft/stream"
)

// sendFlags are shared by every send subcommand.
type sendFlags struct {
	file        string
	mmap        bool
	prealloc    bool
	compression codec.Mode
	message     string
	port        uint16
}

func sendCommand(a *app) *cobra.Command {
	f := &sendFlags{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a file or standard input to a receiver",
		Long:  `Send streams the content of --file, or standard input when no file is given, to a receiver addressed by one of the subcommands.`,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.file, "file", "f", "", "File to send (default: standard input)")
	pf.BoolVar(&f.mmap, "mmap", false, "Memory-map --file instead of reading it")
	pf.BoolVar(&f.prealloc, "prealloc", false, "Announce the file size so the receiver can preallocate")
	pf.VarP(newModeValue(codec.None, &f.compression), "compression", "c", compressionUsage())
	pf.StringVarP(&f.message, "message", "m", "", "Message sent ahead of the payload")

	cmd.AddCommand(sendIPCommand(a, f))
	cmd.AddCommand(sendMDNSCommand(a, f))
	cmd.AddCommand(sendSSHCommand(a, f))
	return cmd
}

func sendIPCommand(a *app, f *sendFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ip <IP>",
		Short: "Send to an IP address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := newTransfer(cmd, a, f)
			if err != nil {
				return err
			}
			target, err := qft.ParseTarget(args[0], f.port)
			if err != nil {
				return err
			}
			return t.send(cmd, target, &net.Dialer{Timeout: a.cfg.DialTimeout()})
		},
	}
	cmd.Flags().Uint16VarP(&f.port, "port", "p", 0, "Receiver TCP port")
	cmd.MarkFlagRequired("port")
	return cmd
}

func sendMDNSCommand(a *app, f *sendFlags) *cobra.Command {
	var (
		timeoutMs int
		ipVersion string
	)
	cmd := &cobra.Command{
		Use:   "mdns <HOSTNAME>",
		Short: "Send to a host found by mDNS on the local network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := newTransfer(cmd, a, f)
			if err != nil {
				return err
			}
			timeout := a.cfg.MDNSTimeout()
			if cmd.Flags().Changed("timeout-ms") {
				timeout = time.Duration(timeoutMs) * time.Millisecond
			}
			version := a.cfg.IPVersionValue()
			if cmd.Flags().Changed("ip-version") {
				v, err := discovery.ParseIPVersion(ipVersion)
				if err != nil {
					return err
				}
				version = v
			}

			res, err := discovery.Resolve(cmd.Context(), args[0], timeout)
			if err != nil {
				return err
			}
			if res == nil {
				return fmt.Errorf("no mDNS answer for %s within %s", args[0], timeout)
			}
			ip, ok := res.IP(version)
			if !ok {
				return fmt.Errorf("%s has no %s address", res.Hostname, version)
			}

			return t.send(cmd, qft.NewTarget(ip, f.port), &net.Dialer{Timeout: a.cfg.DialTimeout()})
		},
	}
	cmd.Flags().Uint16VarP(&f.port, "port", "p", 0, "Receiver TCP port")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", int(discovery.DefaultTimeout/time.Millisecond), "mDNS lookup timeout in milliseconds")
	cmd.Flags().StringVar(&ipVersion, "ip-version", "v4", "Address family to use (v4 or v6)")
	cmd.MarkFlagRequired("port")
	return cmd
}

func sendSSHCommand(a *app, f *sendFlags) *cobra.Command {
	var (
		r        = remote.DefaultPortRange()
		sshPort  uint16
		identity string
		userFlag string
		insecure bool
	)
	cmd := &cobra.Command{
		Use:   "ssh <[user@]HOST>",
		Short: "Send through an SSH tunnel to a receiver on a remote host",
		Long:  `ssh opens an SSH session to HOST. When --port is 0 it runs 'qft get-free-port' on HOST to pick a port in [--start-port, --end-port], then tunnels the transfer through the session to 127.0.0.1 on HOST.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := newTransfer(cmd, a, f)
			if err != nil {
				return err
			}
			user, host := splitUserHost(args[0])
			if userFlag != "" {
				user = userFlag
			}
			sshCfg := a.cfg.SSHConfig(host, user)
			if cmd.Flags().Changed("ssh-port") {
				sshCfg.Port = sshPort
			}
			if identity != "" {
				sshCfg.IdentityFile = identity
			}
			if insecure {
				sshCfg.InsecureIgnoreHostKey = true
			}
			portRange := a.cfg.PortRange()
			if cmd.Flags().Changed("start-port") {
				portRange.Start = r.Start
			}
			if cmd.Flags().Changed("end-port") {
				portRange.End = r.End
			}

			session, err := remote.DialSSH(cmd.Context(), sshCfg)
			if err != nil {
				return err
			}
			defer session.Close()

			port := f.port
			if port == 0 {
				port, err = remote.NegotiatePortOverSession(session, portRange, t.obs)
				if err != nil {
					return err
				}
			}
			target, err := qft.ParseTarget("127.0.0.1", port)
			if err != nil {
				return err
			}
			return t.send(cmd, target, session)
		},
	}
	cmd.Flags().Uint16VarP(&f.port, "port", "p", 0, "Receiver TCP port on the remote host (0 negotiates one)")
	cmd.Flags().Uint16Var(&r.Start, "start-port", r.Start, "First port to try when negotiating")
	cmd.Flags().Uint16Var(&r.End, "end-port", r.End, "Last port to try when negotiating")
	cmd.Flags().Uint16Var(&sshPort, "ssh-port", remote.DefaultSSHPort, "SSH server port")
	cmd.Flags().StringVarP(&identity, "identity", "i", "", "Private key file")
	cmd.Flags().StringVarP(&userFlag, "user", "u", "", "SSH user (overrides user@ in HOST)")
	cmd.Flags().BoolVar(&insecure, "insecure-ignore-host-key", false, "Accept any SSH host key")
	return cmd
}

// options builds the transfer options. A --compression flag overrides the
// configured default.
func (f *sendFlags) options(cmd *cobra.Command, cfg *config.Config) (qft.Options, error) {
	var opts qft.Options
	switch {
	case f.file == "" && f.mmap:
		return opts, errors.New("--mmap requires --file")
	case f.file == "":
		opts.Source = source.Stdin()
	case f.mmap:
		opts.Source = source.Mmap(f.file)
	default:
		opts.Source = source.File(f.file)
	}

	opts.Compression = f.compression
	if !cmd.Flags().Changed("compression") {
		mode, err := cfg.CompressionMode()
		if err != nil {
			return opts, err
		}
		opts.Compression = mode
	}
	opts.Preallocate = f.prealloc
	if f.message != "" {
		opts.Message = []byte(f.message)
	}
	return opts, nil
}

// transfer is one CLI transfer: validated options and a log entry tagged
// with a transfer id.
type transfer struct {
	app  *app
	opts qft.Options
	log  *logrus.Entry
	obs  observer.Observer
}

// newTransfer builds and validates the transfer options. It runs before any
// discovery, SSH or TCP traffic so misconfiguration fails without touching
// the network.
func newTransfer(cmd *cobra.Command, a *app, f *sendFlags) (*transfer, error) {
	opts, err := f.options(cmd, a.cfg)
	if err != nil {
		return nil, err
	}
	if err := qft.NewClient(qft.Config{BufferSize: a.cfg.BufferSize}).Validate(opts); err != nil {
		return nil, err
	}
	log := logrus.WithField("transfer_id", uuid.NewString())
	return &transfer{
		app:  a,
		opts: opts,
		log:  log,
		obs:  observer.NewLogrus(log),
	}, nil
}

func (t *transfer) send(cmd *cobra.Command, target qft.Target, dialer qft.Dialer) error {
	opts := t.opts
	client := qft.NewClient(qft.Config{
		Dialer:     dialer,
		Observer:   t.obs,
		BufferSize: t.app.cfg.BufferSize,
		Stdin:      cmd.InOrStdin(),
	})

	t.log.WithFields(logrus.Fields{
		"function":    "send",
		"target":      target.String(),
		"source":      opts.Source.String(),
		"compression": opts.Compression.String(),
	}).Debug("Starting transfer")

	res, err := client.Send(cmd.Context(), target, opts)
	if err != nil {
		return err
	}
	return printSummary(cmd.OutOrStdout(), target, res)
}

func printSummary(w io.Writer, target qft.Target, res qft.Result) error {
	stats := stream.Stats{Bytes: res.BytesTransferred, Elapsed: res.Elapsed}
	ok := color.New(color.FgGreen, color.Bold)
	if _, err := ok.Fprint(w, "Sent "); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s [%d B] to %s in %s (%s/s)\n",
		humanize.IBytes(res.BytesTransferred), res.BytesTransferred, target,
		res.Elapsed.Round(time.Millisecond), humanize.IBytes(uint64(stats.Rate())))
	return err
}
