package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/internal/wasmbin"
	"github.com/wippyai/wasm-bridge/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

var inspectCmd = &cobra.Command{
	Use:   "inspect module.wasm",
	Short: "Show a module's imports, exports and memory",
	Long: `Print what the runtime sees in a compute module: its imports grouped by
module, its exports, its memory limits and whether execution contexts will
share memory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		wasm, err := os.ReadFile(args[0])
		if err != nil {
			return errors.Load("read "+args[0], err)
		}
		info, err := wasmbin.Scan(wasm)
		if err != nil {
			return err
		}
		printInfo(cmd.OutOrStdout(), args[0], info, cfg.Module.Namespace, cfg.Module.Threads)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func printInfo(w io.Writer, path string, info *wasmbin.Info, namespace string, threads bool) {
	fmt.Fprintf(w, "%s %s\n\n", titleStyle.Render("Module"), path)

	groups := map[string][]wasmbin.Import{}
	var mods []string
	for _, imp := range info.Imports {
		if _, ok := groups[imp.Module]; !ok {
			mods = append(mods, imp.Module)
		}
		groups[imp.Module] = append(groups[imp.Module], imp)
	}
	sort.Strings(mods)
	fmt.Fprintf(w, "Imports (%d):\n", len(info.Imports))
	for _, m := range mods {
		label := m
		switch m {
		case namespace:
			label += helpStyle.Render(" (bridge)")
		case "wasi_snapshot_preview1":
			label += helpStyle.Render(" (wasi)")
		}
		fmt.Fprintf(w, "  %s\n", label)
		for _, imp := range groups[m] {
			fmt.Fprintf(w, "    %s %s%s\n", kindStyle.Render(fmt.Sprintf("%-6s", imp.Kind)), nameStyle.Render(imp.Name), limits(imp.Memory))
		}
	}

	exports := append([]wasmbin.Export(nil), info.Exports...)
	sort.Slice(exports, func(i, j int) bool { return exports[i].Name < exports[j].Name })
	fmt.Fprintf(w, "\nExports (%d):\n", len(exports))
	for _, e := range exports {
		fmt.Fprintf(w, "  %s %s\n", kindStyle.Render(fmt.Sprintf("%-6s", e.Kind)), nameStyle.Render(e.Name))
	}

	fmt.Fprintln(w)
	if info.Memory != nil {
		fmt.Fprintf(w, "Memory: defined%s\n", limits(info.Memory))
	}
	shared := threads && info.SharedMemory()
	switch {
	case shared:
		fmt.Fprintln(w, "Contexts: share memory")
	case !threads:
		fmt.Fprintln(w, "Contexts: private memory (threads disabled)")
	default:
		fmt.Fprintln(w, warnStyle.Render("Contexts: private memory (module memory is not shared)"))
	}

	var missing []string
	for _, name := range entryExports() {
		if !info.HasExport(name, wasmbin.ExternFunc) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(w, "%s %s\n", helpStyle.Render("Not exported:"), strings.Join(missing, ", "))
	}
}

func entryExports() []string {
	e := runtime.DefaultExports()
	return []string{e.Reserve, e.BeginAsync, e.CompleteAsync, e.EntryPoint, e.InputEvent, e.FrameTick}
}

func limits(l *wasmbin.Limits) string {
	if l == nil {
		return ""
	}
	s := fmt.Sprintf(" min %d pages (%s)", l.Min, humanBytes(uint64(l.Min)*wasmbridge.PageSize))
	if l.HasMax {
		s += fmt.Sprintf(", max %d pages (%s)", l.Max, humanBytes(uint64(l.Max)*wasmbridge.PageSize))
	}
	if l.Shared {
		s += ", shared"
	}
	return s
}

func humanBytes(n uint64) string {
	return units.BytesSize(float64(n))
}
