// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Binary proot-go-bindctl is a read-only diagnostic companion to
// proot-go: it validates binding specs and resolves one-off paths
// through a binding set without launching or tracing anything.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gvisor.dev/protrace/pkg/config"
	"gvisor.dev/protrace/pkg/fs"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "proot-go-bindctl",
		Short:         "inspect and debug proot-go binding sets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCommand(), newResolveCommand())
	return root
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate HOST:GUEST...",
		Short: "parse binding specs and print their resolved form",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, spec := range args {
				b, err := fs.ParseBinding(spec)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> host=%s guest=%s substitution=%t\n",
					spec, b.HostPrefix, b.GuestPrefix, b.NeedsSubstitution)
			}
			return nil
		},
	}
}

func newResolveCommand() *cobra.Command {
	var (
		rootfs     string
		bindings   []string
		mountsFile string
	)
	cmd := &cobra.Command{
		Use:   "resolve [--root R] [--bind HOST:GUEST ...] PATH...",
		Short: "translate guest paths to host paths through a binding set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := config.Config{
				Rootfs:     rootfs,
				Bindings:   config.BindingFlag(bindings),
				MountsFile: mountsFile,
			}
			view, err := conf.BuildView()
			if err != nil {
				return err
			}
			for _, guestPath := range args {
				hostPath, err := view.Translate(guestPath, true)
				if err != nil {
					return fmt.Errorf("resolving %s: %w", guestPath, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", guestPath, hostPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rootfs, "root", "/", "guest root filesystem path")
	cmd.Flags().StringArrayVar(&bindings, "bind", nil, "binding HOST:GUEST, may be repeated")
	cmd.Flags().StringVar(&mountsFile, "mounts-file", "", "OCI-style mounts file with extra bindings")
	return cmd
}
