// Package cli provides command-line interface utilities.
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/ZacharyZcR/XBEPatch/internal/catalog"
	"github.com/ZacharyZcR/XBEPatch/internal/xbe"
)

// Reporter formats and prints XBE analysis results.
type Reporter struct {
	info           *xbe.Info
	out            io.Writer
	verbose        bool
	suspiciousOnly bool
}

// NewReporter creates a new reporter for the given XBE info.
func NewReporter(info *xbe.Info) *Reporter {
	return &Reporter{info: info, out: color.Output}
}

// SetOutput redirects the report.
func (r *Reporter) SetOutput(w io.Writer) {
	r.out = w
}

// SetVerbose enables verbose mode (show every kernel import).
func (r *Reporter) SetVerbose(verbose bool) {
	r.verbose = verbose
}

// SetSuspiciousOnly enables suspicious-only mode (show RWX sections only).
func (r *Reporter) SetSuspiciousOnly(suspicious bool) {
	r.suspiciousOnly = suspicious
}

// Print outputs the complete analysis report.
func (r *Reporter) Print() {
	r.printHeader()
	r.printBasicInfo()
	r.printCertificate()
	r.printSections()
	r.printLibraries()
	r.printKernelImports()
	r.printTLS()
}

func (r *Reporter) printHeader() {
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Fprintln(r.out, "\n╔════════════════════════════════════════╗")
	cyan.Fprintln(r.out, "║          XBEPatch 分析报告             ║")
	cyan.Fprintln(r.out, "╚════════════════════════════════════════╝")
}

func (r *Reporter) printBasicInfo() {
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintln(r.out, "\n【基本信息】")

	fmt.Fprintf(r.out, "  %-20s: %s\n", "文件路径", r.info.FilePath)
	fmt.Fprintf(r.out, "  %-20s: %s\n", "文件大小", formatSize(r.info.FileSize))
	fmt.Fprintf(r.out, "  %-20s: %s\n", "镜像类型", r.info.Kind)
	fmt.Fprintf(r.out, "  %-20s: 0x%08X\n", "镜像基址", r.info.BaseAddress)
	if r.info.EntryPointOK {
		fmt.Fprintf(r.out, "  %-20s: 0x%08X\n", "入口点", r.info.EntryPoint)
	} else {
		gray := color.New(color.FgHiBlack)
		fmt.Fprintf(r.out, "  %-20s: ", "入口点")
		gray.Fprintln(r.out, "无法解码")
	}
	fmt.Fprintf(r.out, "  %-20s: %s\n", "时间戳", r.info.Timestamp.Format("2006-01-02 15:04:05"))
	if r.info.DebugPath != "" {
		fmt.Fprintf(r.out, "  %-20s: %s\n", "调试路径", r.info.DebugPath)
	}
	if r.info.DebugName != "" {
		fmt.Fprintf(r.out, "  %-20s: %s\n", "调试文件名", r.info.DebugName)
	}

	fmt.Fprintf(r.out, "  %-20s: ", "节区摘要")
	if r.info.DigestsValid == r.info.DigestsChecked {
		green := color.New(color.FgGreen)
		green.Fprintf(r.out, "✓ 全部有效 (%d)", r.info.DigestsChecked)
	} else {
		red := color.New(color.FgRed, color.Bold)
		red.Fprintf(r.out, "✗ %d/%d 有效", r.info.DigestsValid, r.info.DigestsChecked)
	}
	fmt.Fprintln(r.out)
}

func (r *Reporter) printCertificate() {
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintln(r.out, "\n【证书】")

	fmt.Fprintf(r.out, "  %-20s: %s\n", "标题", r.info.TitleName)
	fmt.Fprintf(r.out, "  %-20s: %s\n", "标题ID", r.info.TitleID)
	fmt.Fprintf(r.out, "  %-20s: %d\n", "版本", r.info.TitleVersion)
	fmt.Fprintf(r.out, "  %-20s: %s\n", "地区", joinOrNone(r.info.Regions))
	fmt.Fprintf(r.out, "  %-20s: %s\n", "允许介质", joinOrNone(r.info.Media))
}

func (r *Reporter) printSections() {
	sections := r.info.Sections

	// Filter suspicious sections if flag is set
	if r.suspiciousOnly {
		var suspicious []xbe.SectionInfo
		for _, s := range sections {
			if s.Permissions == "RWX" {
				suspicious = append(suspicious, s)
			}
		}
		sections = suspicious
	}

	yellow := color.New(color.FgYellow, color.Bold)
	if r.suspiciousOnly {
		yellow.Fprintf(r.out, "\n【可疑节区】(共 %d 个)\n", len(sections))
	} else {
		yellow.Fprintf(r.out, "\n【节区信息】(共 %d 个)\n", len(sections))
	}

	if len(sections) == 0 {
		if r.suspiciousOnly {
			fmt.Fprintln(r.out, "  未发现可疑节区")
		} else {
			fmt.Fprintln(r.out, "  未发现节区")
		}
		return
	}

	fmt.Fprintln(r.out, strings.Repeat("-", 100))
	fmt.Fprintf(r.out, "  %-10s %-12s %-12s %-12s %-6s %-8s %-6s\n",
		"名称", "虚拟地址", "虚拟大小", "原始大小", "权限", "熵", "摘要")
	fmt.Fprintln(r.out, strings.Repeat("-", 100))

	for _, section := range sections {
		// Highlight dangerous permissions (RWX)
		permColor := color.New(color.FgWhite)
		if section.Permissions == "RWX" {
			permColor = color.New(color.FgRed, color.Bold)
		} else if strings.Contains(section.Permissions, "X") {
			permColor = color.New(color.FgYellow)
		}

		fmt.Fprintf(r.out, "  %-10s 0x%08X   %-12s %-12s ",
			section.Name,
			section.VirtualAddress,
			formatSize(int64(section.VirtualSize)),
			formatSize(int64(section.RawSize)),
		)
		permColor.Fprintf(r.out, "%-6s", section.Permissions)
		fmt.Fprintf(r.out, " %-8.2f ", section.Entropy)
		if section.DigestValid {
			color.New(color.FgGreen).Fprintln(r.out, "✓")
		} else {
			color.New(color.FgRed).Fprintln(r.out, "✗")
		}
	}
	fmt.Fprintln(r.out, strings.Repeat("-", 100))
}

func (r *Reporter) printLibraries() {
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(r.out, "\n【库版本】(共 %d 个)\n", len(r.info.Libraries))

	if len(r.info.Libraries) == 0 {
		fmt.Fprintln(r.out, "  未发现库版本")
		return
	}

	green := color.New(color.FgGreen)
	for i, lib := range r.info.Libraries {
		green.Fprintf(r.out, "  %3d. %-8s %s\n", i+1, lib.Name, lib.Version)
	}
}

func (r *Reporter) printKernelImports() {
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(r.out, "\n【内核导入】(共 %d 个)\n", len(r.info.KernelImports))

	if len(r.info.KernelImports) == 0 {
		fmt.Fprintln(r.out, "  未发现内核导入")
		return
	}

	maxDisplay := 20
	if r.verbose {
		maxDisplay = len(r.info.KernelImports) // Show all in verbose mode
	}

	displayCount := len(r.info.KernelImports)
	if displayCount > maxDisplay {
		displayCount = maxDisplay
	}

	for i := 0; i < displayCount; i++ {
		fmt.Fprintf(r.out, "  %3d. 序号 %d\n", i+1, r.info.KernelImports[i])
	}

	if len(r.info.KernelImports) > maxDisplay {
		gray := color.New(color.FgHiBlack)
		gray.Fprintf(r.out, "  ... (还有 %d 个导入)\n", len(r.info.KernelImports)-maxDisplay)
	}
}

func (r *Reporter) printTLS() {
	if r.info.TLS == nil {
		return
	}
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintln(r.out, "\n【TLS】")

	tls := r.info.TLS
	fmt.Fprintf(r.out, "  %-20s: 0x%08X - 0x%08X\n", "数据范围", tls.DataStartAddress, tls.DataEndAddress)
	fmt.Fprintf(r.out, "  %-20s: 0x%08X\n", "索引地址", tls.TLSIndexAddress)
	fmt.Fprintf(r.out, "  %-20s: %d\n", "零填充大小", tls.SizeOfZeroFill)
	for i, cb := range tls.Callbacks {
		fmt.Fprintf(r.out, "  回调 %d: 0x%08X\n", i+1, cb)
	}
	fmt.Fprintln(r.out)
}

// PrintModList prints the mod catalog, marking the selected entries.
func PrintModList(w io.Writer, list *catalog.ModList, selected map[string]bool) {
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(w, "\n【模组列表】(共 %d 个)\n", len(list.Mods))

	if len(list.Mods) == 0 {
		fmt.Fprintln(w, "  模组列表为空")
		return
	}

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	for i, m := range list.Mods {
		mark := "[ ]"
		if selected[m.Name] {
			mark = "[x]"
		}
		green.Fprintf(w, "  %3d. %s %s", i+1, mark, m.Name)
		gray.Fprintf(w, "  (%s)\n", m.Author)
		if m.Description != "" {
			fmt.Fprintf(w, "       %s\n", m.Description)
		}
		if m.WebsiteURL != "" {
			gray.Fprintf(w, "       %s\n", m.WebsiteURL)
		}
	}
	fmt.Fprintln(w)
}

// PrintCodeCaves prints detected code caves.
func PrintCodeCaves(w io.Writer, caves []xbe.CodeCave, minSize uint32) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Fprintln(w)
	cyan.Fprintf(w, "========== Code Caves (最小 %d 字节) ==========\n", minSize)

	if len(caves) == 0 {
		yellow.Fprintln(w, "未发现符合条件的 Code Caves")
		return
	}

	green.Fprintf(w, "发现 %d 个可用 Code Caves:\n\n", len(caves))

	for i, cave := range caves {
		fillPattern := "0x00"
		if cave.FillByte == 0xCC {
			fillPattern = "0xCC (INT3)"
		}

		fmt.Fprintf(w, "%d. 节区: %s\n", i+1, cave.Section)
		fmt.Fprintf(w, "   文件偏移: 0x%08X\n", cave.RawOffset)
		fmt.Fprintf(w, "   虚拟地址: 0x%08X\n", cave.VirtualAddress)
		fmt.Fprintf(w, "   大小:     %d 字节\n", cave.Size)
		fmt.Fprintf(w, "   填充:     %s\n", fillPattern)
		fmt.Fprintln(w)
	}
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "无"
	}
	return strings.Join(items, ", ")
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
