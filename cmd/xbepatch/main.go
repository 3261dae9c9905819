// Package main provides the XBEPatch CLI tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/ZacharyZcR/XBEPatch/internal/catalog"
	"github.com/ZacharyZcR/XBEPatch/internal/cli"
	"github.com/ZacharyZcR/XBEPatch/internal/config"
	"github.com/ZacharyZcR/XBEPatch/internal/integrity"
	"github.com/ZacharyZcR/XBEPatch/internal/log"
	"github.com/ZacharyZcR/XBEPatch/internal/modloader"
	"github.com/ZacharyZcR/XBEPatch/internal/xbe"
)

var (
	// Analysis flags.
	verbose        = flag.Bool("v", false, "详细模式：显示所有内核导入")
	suspiciousOnly = flag.Bool("s", false, "仅显示可疑节区（RWX权限）")
	detectCaves    = flag.Bool("caves", false, "检测Code Caves（可注入代码的空隙）")
	minCaveSize    = flag.Uint("min-cave-size", 32, "Code Cave最小大小（字节）")

	// Mod flags.
	listMods    = flag.Bool("mods", false, "列出模组列表")
	updateList  = flag.Bool("update", false, "从网络更新模组列表")
	offline     = flag.Bool("offline", false, "不检查模组列表更新")
	buildMode   = flag.Bool("build", false, "构建模式：将模组应用到基础镜像并导出")
	modNames    = flag.String("mod", "", "要应用的模组名称（逗号分隔）")
	patchFiles  = flag.String("patch", "", "要应用的本地IPS补丁文件（逗号分隔）")
	romPath     = flag.String("rom", "", "基础镜像路径（默认: baserom/default.xbe）")
	outputDir   = flag.String("out", "", "输出目录（默认: output）")
	modListPath = flag.String("modlist", "", "模组列表路径（默认: mods.toml）")
	expectSHA1  = flag.String("sha1", "", "基础镜像期望的SHA-1（十六进制）")
	noVerify    = flag.Bool("no-verify", false, "跳过基础镜像哈希校验")
	logLevel    = flag.String("log-level", "", "日志级别 (debug, info, warn, error)")

	// Edit flags.
	editMode     = flag.Bool("edit", false, "修改模式：直接修改XBE文件")
	sectionName  = flag.String("section", "", "要修改的节区名称")
	permissions  = flag.String("perms", "", "新的权限 (例如: R-X, RW-, RWX)")
	entryPoint   = flag.String("entry", "", "新的入口点虚拟地址 (十六进制，例如: 0x11000)")
	addSection   = flag.String("add-section", "", "添加新节区的名称")
	sectionSize  = flag.Uint("section-size", 4096, "新节区大小（字节）")
	sectionPerms = flag.String("section-perms", "R-X", "新节区权限 (R-X, RW-, RWX)")
	title        = flag.String("title", "", "新的证书标题")
	createBackup = flag.Bool("backup", true, "修改前创建备份文件")
)

func main() {
	flag.Parse()

	log.SetOutput(os.Stderr, true)
	cfg := config.Load()
	applyFlags(cfg)
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		exitWithError(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch {
	case *buildMode:
		err = buildRom(ctx, cfg)
	case *listMods || *updateList:
		err = showModList(ctx, cfg)
	case *editMode:
		err = editXBE(targetPath(cfg))
	default:
		err = analyzeXBE(targetPath(cfg))
	}

	if err != nil {
		exitWithError(err)
	}
}

func exitWithError(err error) {
	red := color.New(color.FgRed, color.Bold)
	_, _ = red.Fprintf(os.Stderr, "\n错误: %v\n\n", err)
	os.Exit(1)
}

func applyFlags(cfg *config.Config) {
	o := config.Overrides{
		RomPath:     *romPath,
		OutputDir:   *outputDir,
		ModListPath: *modListPath,
		LogLevel:    *logLevel,
	}
	if *offline {
		no := false
		o.CheckUpdate = &no
	}
	cfg.Override(o)
	if *expectSHA1 != "" {
		cfg.ExpectedSHA1 = *expectSHA1
	}
}

// targetPath is the positional argument, or the configured base image.
func targetPath(cfg *config.Config) string {
	if flag.NArg() > 0 {
		return flag.Arg(0)
	}
	return cfg.RomPath
}

func analyzeXBE(path string) error {
	if _, err := os.Stat(path); err != nil {
		printUsage()
		return errors.Wrap(err, "无法访问XBE文件")
	}

	img, err := xbe.Open(path)
	if err != nil {
		return err
	}
	stat, _ := os.Stat(path)

	analyzer := xbe.NewAnalyzer(img)
	analyzer.SetSource(path, stat.Size())
	info := analyzer.Analyze()

	reporter := cli.NewReporter(info)
	reporter.SetVerbose(*verbose)
	reporter.SetSuspiciousOnly(*suspiciousOnly)
	reporter.Print()

	if *detectCaves {
		cli.PrintCodeCaves(color.Output, img.DetectCodeCaves(uint32(*minCaveSize)), uint32(*minCaveSize))
	}
	return nil
}

// loadModList refreshes the cached list when asked to and reads it. A
// failed refresh falls back to the cached copy.
func loadModList(ctx context.Context, cfg *config.Config, refresh bool) (*catalog.ModList, error) {
	if refresh {
		cyan := color.New(color.FgCyan)
		_, _ = cyan.Printf("正在更新模组列表: %s\n", cfg.ModListURL)
		if _, err := catalog.NewClient().UpdateModList(ctx, cfg.ModListURL, cfg.ModListPath); err != nil {
			yellow := color.New(color.FgYellow)
			_, _ = yellow.Printf("⚠️  更新模组列表失败，使用本地副本: %v\n", err)
		}
	}
	return catalog.Load(cfg.ModListPath)
}

func showModList(ctx context.Context, cfg *config.Config) error {
	list, err := loadModList(ctx, cfg, *updateList || (*listMods && cfg.CheckUpdate))
	if err != nil {
		return err
	}
	cli.PrintModList(color.Output, list, selectedNames())
	return nil
}

func selectedNames() map[string]bool {
	names := make(map[string]bool)
	for _, n := range splitList(*modNames) {
		names[n] = true
	}
	return names
}

func gateFor(cfg *config.Config) (*integrity.Gate, error) {
	if *noVerify {
		return nil, nil
	}
	if cfg.ExpectedSHA1 != "" {
		return integrity.FromHex(cfg.ExpectedSHA1)
	}
	return integrity.Default(), nil
}

func buildRom(ctx context.Context, cfg *config.Config) error {
	gate, err := gateFor(cfg)
	if err != nil {
		return err
	}

	var mods []catalog.Mod
	if names := splitList(*modNames); len(names) > 0 {
		list, err := loadModList(ctx, cfg, cfg.CheckUpdate)
		if err != nil {
			return err
		}
		for _, n := range names {
			m, ok := list.Find(n)
			if !ok {
				return errors.Errorf("模组列表中没有名为 %q 的模组", n)
			}
			mods = append(mods, m)
		}
	}

	cyan := color.New(color.FgCyan)
	_, _ = cyan.Printf("正在加载基础镜像: %s\n", cfg.RomPath)
	rom, err := modloader.LoadRom(cfg.RomPath, gate)
	if err != nil {
		return err
	}

	for _, path := range splitList(*patchFiles) {
		_, _ = cyan.Printf("正在应用补丁: %s\n", path)
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "读取补丁 %s 失败", path)
		}
		if err := rom.ApplyPatchBytes(data); err != nil {
			return errors.WithMessagef(err, "补丁 %s", path)
		}
	}

	if len(mods) > 0 {
		_, _ = cyan.Printf("正在应用 %d 个模组...\n", len(mods))
		if err := rom.ApplyMods(ctx, catalog.NewClient(), mods); err != nil {
			return err
		}
	}

	if *addSection != "" {
		if err := rom.Rebuild(injectSection); err != nil {
			return err
		}
	}

	if _, err := rom.Image(); err != nil {
		return errors.WithMessage(err, "打补丁后的镜像无法解析")
	}

	path, err := rom.Export(cfg.OutputDir)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen, color.Bold)
	_, _ = green.Printf("\n✓ 已导出: %s\n\n", path)
	return nil
}

func editXBE(path string) error {
	if *sectionName == "" && *entryPoint == "" && *addSection == "" && *title == "" {
		return errors.New("必须指定至少一个修改操作")
	}

	img, err := xbe.Open(path)
	if err != nil {
		return err
	}

	if err := createBackupIfNeeded(path); err != nil {
		return err
	}

	if err := applyEdits(img); err != nil {
		return err
	}

	out, err := xbe.Write(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errors.Wrap(err, "写入XBE文件失败")
	}

	printEditSuccess()
	return nil
}

func applyEdits(img *xbe.Image) error {
	cyan := color.New(color.FgCyan)

	if *sectionName != "" && *permissions != "" {
		write, execute, err := xbe.ParsePermissions(*permissions)
		if err != nil {
			return err
		}
		_, _ = cyan.Printf("正在修改节区 '%s' 的权限...\n", *sectionName)
		if err := img.SetSectionPermissions(*sectionName, write, execute); err != nil {
			return err
		}
	}

	if *entryPoint != "" {
		addr, err := parseHexAddress(*entryPoint)
		if err != nil {
			return err
		}
		if current, ok := img.Header.DecodedEntryPoint(); ok {
			_, _ = cyan.Printf("当前入口点: 0x%08X\n", current)
		}
		_, _ = cyan.Printf("正在修改入口点为: 0x%08X...\n", addr)
		if err := img.PatchEntryPoint(addr); err != nil {
			return err
		}
	}

	if *title != "" {
		_, _ = cyan.Printf("正在修改标题为: %s\n", *title)
		img.Certificate.SetTitle(*title)
	}

	if *addSection != "" {
		return injectSection(img)
	}
	return nil
}

func injectSection(img *xbe.Image) error {
	flags, err := xbe.PermissionFlags(*sectionPerms)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	_, _ = cyan.Printf("正在添加新节区 '%s' (%d 字节, 权限: %s)...\n", *addSection, *sectionSize, *sectionPerms)

	sh, err := img.AddSection(*addSection, make([]byte, *sectionSize), flags)
	if err != nil {
		return err
	}
	_, _ = cyan.Printf("新节区虚拟地址: 0x%08X, 文件偏移: 0x%08X\n", sh.VirtualAddress, sh.RawAddress)
	return nil
}

func createBackupIfNeeded(path string) error {
	if !*createBackup {
		return nil
	}

	backupPath := path + ".bak"
	if err := copyFile(path, backupPath); err != nil {
		return errors.Wrap(err, "创建备份失败")
	}

	green := color.New(color.FgGreen)
	_, _ = green.Printf("✓ 已创建备份: %s\n", backupPath)
	return nil
}

func printEditSuccess() {
	green := color.New(color.FgGreen, color.Bold)
	fmt.Println()
	if *sectionName != "" && *permissions != "" {
		_, _ = green.Printf("✓ 成功修改节区权限: %s -> %s\n", *sectionName, *permissions)
	}
	if *entryPoint != "" {
		_, _ = green.Printf("✓ 成功修改入口点: %s\n", *entryPoint)
	}
	if *title != "" {
		_, _ = green.Printf("✓ 成功修改标题: %s\n", *title)
	}
	if *addSection != "" {
		_, _ = green.Printf("✓ 成功添加新节区: %s (%d 字节, 权限: %s)\n", *addSection, *sectionSize, *sectionPerms)
	}
	fmt.Println()
}

func parseHexAddress(addr string) (uint32, error) {
	var result uint32
	_, err := fmt.Sscanf(addr, "0x%x", &result)
	if err != nil {
		_, err = fmt.Sscanf(addr, "%x", &result)
		if err != nil {
			return 0, errors.Errorf("地址格式错误: %s (应为十六进制，例如: 0x11000)", addr)
		}
	}
	return result, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func printUsage() {
	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Println("\nXBEPatch - XBE文件分析、修改与模组构建工具")

	fmt.Println("\n分析模式用法:")
	fmt.Println("  xbepatch [选项] [XBE文件路径]")
	fmt.Println("\n分析选项:")
	fmt.Println("  -v              详细模式：显示所有内核导入")
	fmt.Println("  -s              仅显示可疑节区（RWX权限）")
	fmt.Println("  -caves          检测Code Caves（可注入代码的空隙）")
	fmt.Println("  -min-cave-size  Code Cave最小大小（字节，默认: 32）")

	fmt.Println("\n模组用法:")
	fmt.Println("  xbepatch -mods [-update]")
	fmt.Println("  xbepatch -build [-mod 名称,...] [-patch 文件.ips,...] [-add-section 名称]")
	fmt.Println("\n模组选项:")
	fmt.Println("  -rom <路径>        基础镜像（默认: baserom/default.xbe, 环境变量 XBEPATCH_ROM）")
	fmt.Println("  -out <目录>        输出目录（默认: output, 环境变量 XBEPATCH_OUTPUT）")
	fmt.Println("  -modlist <路径>    模组列表（默认: mods.toml, 环境变量 XBEPATCH_MODLIST）")
	fmt.Println("  -offline           不检查模组列表更新（环境变量 XBEPATCH_OFFLINE）")
	fmt.Println("  -sha1 <十六进制>   基础镜像期望的SHA-1")
	fmt.Println("  -no-verify         跳过基础镜像哈希校验")

	fmt.Println("\n修改模式用法:")
	fmt.Println("  xbepatch -edit [选项] <XBE文件路径>")
	fmt.Println("\n修改选项:")
	fmt.Println("  -section <名称>       要修改的节区名称（例如: .text, .data）")
	fmt.Println("  -perms <RWX>          新的权限，3个字符：R(读) W(写) X(执行)，用'-'表示无")
	fmt.Println("  -entry <地址>         新的入口点虚拟地址（十六进制）")
	fmt.Println("  -add-section <名称>   添加新节区")
	fmt.Println("  -section-size <大小>  新节区大小（字节，默认: 4096）")
	fmt.Println("  -section-perms <RWX>  新节区权限（默认: R-X）")
	fmt.Println("  -title <标题>         修改证书标题")
	fmt.Println("  -backup               修改前创建备份（默认: true）")

	fmt.Println("\n示例:")
	fmt.Println("  xbepatch baserom/default.xbe")
	fmt.Println("  xbepatch -caves -min-cave-size 64 default.xbe")
	fmt.Println("  xbepatch -mods -update")
	fmt.Println("  xbepatch -build -mod \"Widescreen,Skip Intro\"")
	fmt.Println("  xbepatch -build -patch fix.ips -out build")
	fmt.Println("  xbepatch -edit -section .text -perms RWX default.xbe")
	fmt.Println("  xbepatch -edit -add-section .mod -section-size 8192 default.xbe")
	fmt.Println()
}
