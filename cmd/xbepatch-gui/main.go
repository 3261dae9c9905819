// Package main provides the XBEPatch GUI application.
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
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

func main() {
	log.SetOutput(os.Stderr, true)
	cfg := config.Load()
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		log.Log.Warn().Err(err).Msg("日志级别无效")
	}
	// The analysis pane is plain text.
	color.NoColor = true

	myApp := app.New()
	myWindow := myApp.NewWindow("XBEPatch - XBE模组构建与分析工具")
	myWindow.Resize(fyne.NewSize(1000, 720))

	// Base image path
	filePathEntry := widget.NewEntry()
	filePathEntry.SetText(cfg.RomPath)
	filePathEntry.SetPlaceHolder("选择XBE文件...")

	outputEntry := widget.NewEntry()
	outputEntry.SetText(cfg.OutputDir)

	analysisOutput := widget.NewMultiLineEntry()
	analysisOutput.SetPlaceHolder("分析结果将显示在这里...")
	analysisOutput.Disable()

	statusLabel := widget.NewLabel("就绪")
	setStatus := func(s string) {
		fyne.Do(func() { statusLabel.SetText(s) })
	}
	showError := func(err error) {
		fyne.Do(func() { dialog.ShowError(err, myWindow) })
	}

	fileButton := widget.NewButton("选择文件", func() {
		dialog.ShowFileOpen(func(file fyne.URIReadCloser, err error) {
			if err != nil || file == nil {
				return
			}
			defer func() { _ = file.Close() }()
			filePathEntry.SetText(file.URI().Path())
		}, myWindow)
	})

	analyzeButton := widget.NewButton("分析", func() {
		if filePathEntry.Text == "" {
			dialog.ShowError(errors.New("请先选择XBE文件"), myWindow)
			return
		}

		path := filePathEntry.Text
		statusLabel.SetText("正在分析...")
		go func() {
			result, err := analyzeXBEFile(path)
			if err != nil {
				showError(err)
				setStatus("分析失败")
				return
			}
			fyne.Do(func() { analysisOutput.SetText(result) })
			setStatus("分析完成")
		}()
	})

	// Mod selection
	selected := make(map[string]bool)
	modChecks := container.NewVBox()
	var mods []catalog.Mod

	showMods := func(list *catalog.ModList) {
		mods = list.Mods
		modChecks.RemoveAll()
		for _, m := range list.Mods {
			name := m.Name
			label := name
			if m.Author != "" {
				label = fmt.Sprintf("%s (%s)", name, m.Author)
			}
			check := widget.NewCheck(label, func(on bool) {
				selected[name] = on
			})
			check.SetChecked(selected[name])
			modChecks.Add(check)
		}
		modChecks.Refresh()
	}

	if list, err := catalog.Load(cfg.ModListPath); err == nil {
		showMods(list)
	} else {
		log.Log.Debug().Err(err).Str("path", cfg.ModListPath).Msg("本地模组列表不可用")
	}

	updateButton := widget.NewButton("更新模组列表", func() {
		statusLabel.SetText("正在更新模组列表...")
		go func() {
			list, err := catalog.NewClient().UpdateModList(context.Background(), cfg.ModListURL, cfg.ModListPath)
			if err != nil {
				showError(err)
				setStatus("更新失败")
				return
			}
			fyne.Do(func() { showMods(list) })
			setStatus(fmt.Sprintf("已加载 %d 个模组", len(list.Mods)))
		}()
	})

	buildButton := widget.NewButton("构建", func() {
		var chosen []catalog.Mod
		for _, m := range mods {
			if selected[m.Name] {
				chosen = append(chosen, m)
			}
		}
		if len(chosen) == 0 {
			dialog.ShowError(errors.New("请至少选择一个模组"), myWindow)
			return
		}

		req := modloader.BuildRequest{
			RomPath:   filePathEntry.Text,
			OutputDir: outputEntry.Text,
			Gate:      integrity.Default(),
			Mods:      chosen,
		}
		if cfg.ExpectedSHA1 != "" {
			gate, err := integrity.FromHex(cfg.ExpectedSHA1)
			if err != nil {
				dialog.ShowError(err, myWindow)
				return
			}
			req.Gate = gate
		}

		statusLabel.SetText(fmt.Sprintf("正在应用 %d 个模组...", len(chosen)))
		go func() {
			path, err := modloader.Build(context.Background(), catalog.NewClient(), req)
			if err != nil {
				showError(err)
				setStatus("构建失败")
				return
			}
			fyne.Do(func() {
				dialog.ShowInformation("成功", fmt.Sprintf("已导出: %s", path), myWindow)
			})
			setStatus("构建完成")
		}()
	})

	// Section permissions
	sectionEntry := widget.NewEntry()
	sectionEntry.SetPlaceHolder(".text")
	permsEntry := widget.NewEntry()
	permsEntry.SetPlaceHolder("R-X")

	patchSectionButton := widget.NewButton("修改节区权限", func() {
		if filePathEntry.Text == "" {
			dialog.ShowError(errors.New("请先选择XBE文件"), myWindow)
			return
		}
		if sectionEntry.Text == "" || permsEntry.Text == "" {
			dialog.ShowError(errors.New("请输入节区名称和权限"), myWindow)
			return
		}

		path, name, perms := filePathEntry.Text, sectionEntry.Text, permsEntry.Text
		statusLabel.SetText("正在修改节区权限...")
		go func() {
			if err := patchSection(path, name, perms); err != nil {
				showError(err)
				setStatus("修改失败")
				return
			}
			fyne.Do(func() {
				dialog.ShowInformation("成功", fmt.Sprintf("成功修改节区 %s 权限为 %s", name, perms), myWindow)
			})
			setStatus("修改完成")
		}()
	})

	// Entry point
	entryEntry := widget.NewEntry()
	entryEntry.SetPlaceHolder("0x11000")

	patchEntryButton := widget.NewButton("修改入口点", func() {
		if filePathEntry.Text == "" {
			dialog.ShowError(errors.New("请先选择XBE文件"), myWindow)
			return
		}
		if entryEntry.Text == "" {
			dialog.ShowError(errors.New("请输入入口点地址"), myWindow)
			return
		}

		path, entry := filePathEntry.Text, entryEntry.Text
		statusLabel.SetText("正在修改入口点...")
		go func() {
			if err := patchEntryPoint(path, entry); err != nil {
				showError(err)
				setStatus("修改失败")
				return
			}
			fyne.Do(func() {
				dialog.ShowInformation("成功", fmt.Sprintf("成功修改入口点为 %s", entry), myWindow)
			})
			setStatus("修改完成")
		}()
	})

	// Layout
	fileBox := container.NewBorder(nil, nil, nil, fileButton, filePathEntry)

	analysisBox := container.NewVScroll(analysisOutput)

	modBox := container.NewBorder(
		container.NewVBox(
			widget.NewLabel("模组:"),
			updateButton,
		),
		container.NewVBox(
			container.NewBorder(nil, nil, widget.NewLabel("输出目录:"), nil, outputEntry),
			buildButton,
		),
		nil, nil,
		container.NewVScroll(modChecks),
	)

	patchBox := container.NewVBox(
		widget.NewLabel("节区权限修改:"),
		container.NewGridWithColumns(3,
			widget.NewLabel("节区名称:"),
			widget.NewLabel("权限:"),
			widget.NewLabel(""),
		),
		container.NewGridWithColumns(3,
			sectionEntry,
			permsEntry,
			patchSectionButton,
		),
		widget.NewSeparator(),
		widget.NewLabel("入口点修改:"),
		container.NewGridWithColumns(2,
			entryEntry,
			patchEntryButton,
		),
	)

	mainContent := container.NewBorder(
		container.NewVBox(
			widget.NewLabel("XBE文件路径:"),
			fileBox,
			widget.NewSeparator(),
			analyzeButton,
		),
		container.NewVBox(
			widget.NewSeparator(),
			patchBox,
			widget.NewSeparator(),
			statusLabel,
		),
		nil,
		modBox,
		analysisBox,
	)

	myWindow.SetContent(mainContent)
	myWindow.ShowAndRun()
}

func analyzeXBEFile(path string) (string, error) {
	img, err := xbe.Open(path)
	if err != nil {
		return "", err
	}
	stat, err := os.Stat(path)
	if err != nil {
		return "", errors.WithStack(err)
	}

	analyzer := xbe.NewAnalyzer(img)
	analyzer.SetSource(path, stat.Size())

	var output bytes.Buffer
	reporter := cli.NewReporter(analyzer.Analyze())
	reporter.SetOutput(&output)
	reporter.Print()
	cli.PrintCodeCaves(&output, img.DetectCodeCaves(32), 32)

	return output.String(), nil
}

// editFile rewrites the image at path in place, keeping a .bak copy.
func editFile(path string, edit func(*xbe.Image) error) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WithStack(err)
	}
	rom := modloader.NewRom(data)
	if err := rom.Rebuild(edit); err != nil {
		return err
	}
	if err := os.WriteFile(path+".bak", data, 0o644); err != nil {
		return errors.Wrap(err, "创建备份失败")
	}
	return errors.Wrap(os.WriteFile(path, rom.Bytes(), 0o644), "写入XBE文件失败")
}

func patchSection(path, sectionName, perms string) error {
	write, execute, err := xbe.ParsePermissions(strings.ToUpper(perms))
	if err != nil {
		return err
	}
	return editFile(path, func(img *xbe.Image) error {
		return img.SetSectionPermissions(sectionName, write, execute)
	})
}

func patchEntryPoint(path, entryStr string) error {
	var entry uint32
	_, err := fmt.Sscanf(entryStr, "0x%x", &entry)
	if err != nil {
		_, err = fmt.Sscanf(entryStr, "%x", &entry)
		if err != nil {
			return errors.New("入口点地址格式错误")
		}
	}

	return editFile(path, func(img *xbe.Image) error {
		return img.PatchEntryPoint(entry)
	})
}
