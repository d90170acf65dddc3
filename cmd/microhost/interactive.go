package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/plugin-runtime/micro"
	"github.com/wippyai/plugin-runtime/value"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	itemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	detailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type inspectorState int

const (
	statePlugins inspectorState = iota
	stateTasks
	stateArgs
	stateResult
)

type taskInfo struct {
	name  string
	help  string
	arity int
}

type inspectorModel struct {
	kernel *micro.Kernel

	plugins   []string
	pluginSel int

	plugin  *micro.Plugin
	tasks   []taskInfo
	taskSel int

	inputs   []textinput.Model
	focusIdx int

	result string
	err    error
	state  inspectorState
}

type callResultMsg struct {
	err    error
	result string
}

func runInteractive(kernel *micro.Kernel) error {
	m := &inspectorModel{kernel: kernel, plugins: kernel.PluginNames()}
	p := tea.NewProgram(m)
	_, err := p.Run()
	if m.plugin != nil {
		m.plugin.Release()
	}
	return err
}

func (m *inspectorModel) Init() tea.Cmd {
	return nil
}

func (m *inspectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case callResultMsg:
		m.err = msg.err
		m.result = msg.result
		m.state = stateResult
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state == stateArgs && msg.String() == "q" {
				break // "q" is a valid argument character
			}
			return m, tea.Quit
		case "esc":
			return m.back(), nil
		}

		switch m.state {
		case statePlugins:
			return m.updatePlugins(msg)
		case stateTasks:
			return m.updateTasks(msg)
		case stateArgs:
			return m.updateArgs(msg)
		case stateResult:
			m.state = stateTasks
			return m, nil
		}
	}
	return m, nil
}

func (m *inspectorModel) back() *inspectorModel {
	switch m.state {
	case stateTasks:
		if m.plugin != nil {
			m.plugin.Release()
			m.plugin = nil
		}
		m.plugins = m.kernel.PluginNames()
		m.state = statePlugins
	case stateArgs, stateResult:
		m.state = stateTasks
	}
	return m
}

func (m *inspectorModel) updatePlugins(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.pluginSel > 0 {
			m.pluginSel--
		}
	case "down", "j":
		if m.pluginSel < len(m.plugins)-1 {
			m.pluginSel++
		}
	case "r":
		m.plugins = m.kernel.PluginNames()
		if m.pluginSel >= len(m.plugins) {
			m.pluginSel = 0
		}
	case "enter":
		if len(m.plugins) == 0 {
			return m, nil
		}
		p := m.kernel.GetPlugin(m.plugins[m.pluginSel])
		if p == nil {
			m.err = fmt.Errorf("plugin %q is gone", m.plugins[m.pluginSel])
			m.state = stateResult
			return m, nil
		}
		m.plugin = p
		m.tasks = nil
		for arity := 0; arity <= p.MaxArgs(); arity++ {
			for _, name := range p.TaskNames(arity) {
				m.tasks = append(m.tasks, taskInfo{
					name:  name,
					help:  p.TaskHelp(arity, name),
					arity: arity,
				})
			}
		}
		m.taskSel = 0
		m.state = stateTasks
	}
	return m, nil
}

func (m *inspectorModel) updateTasks(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.taskSel > 0 {
			m.taskSel--
		}
	case "down", "j":
		if m.taskSel < len(m.tasks)-1 {
			m.taskSel++
		}
	case "enter":
		if len(m.tasks) == 0 {
			return m, nil
		}
		task := m.tasks[m.taskSel]
		if task.arity == 0 {
			return m, m.dispatch(task, nil)
		}
		m.inputs = make([]textinput.Model, task.arity)
		for i := range m.inputs {
			ti := textinput.New()
			ti.Placeholder = fmt.Sprintf("arg %d (int or string)", i)
			ti.CharLimit = 256
			m.inputs[i] = ti
		}
		m.focusIdx = 0
		m.inputs[0].Focus()
		m.state = stateArgs
	}
	return m, nil
}

func (m *inspectorModel) updateArgs(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab":
		m.inputs[m.focusIdx].Blur()
		if msg.String() == "tab" {
			m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
		} else {
			m.focusIdx = (m.focusIdx - 1 + len(m.inputs)) % len(m.inputs)
		}
		m.inputs[m.focusIdx].Focus()
		return m, nil
	case "enter":
		if m.focusIdx < len(m.inputs)-1 {
			m.inputs[m.focusIdx].Blur()
			m.focusIdx++
			m.inputs[m.focusIdx].Focus()
			return m, nil
		}
		args := make([]value.Value, len(m.inputs))
		for i, in := range m.inputs {
			args[i] = parseArg(in.Value())
		}
		return m, m.dispatch(m.tasks[m.taskSel], args)
	}

	var cmd tea.Cmd
	m.inputs[m.focusIdx], cmd = m.inputs[m.focusIdx].Update(msg)
	return m, cmd
}

// parseArg maps inspector input to a dynamic value: integers when the text
// parses as one, strings otherwise.
func parseArg(s string) value.Value {
	if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		return value.Int(n)
	}
	return value.String(s)
}

func (m *inspectorModel) dispatch(task taskInfo, args []value.Value) tea.Cmd {
	plugin := m.plugin
	return func() tea.Msg {
		r := plugin.Run(context.Background(), task.arity, task.name, args...)
		if r.Empty() {
			return callResultMsg{result: "(empty result)"}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		v, err := r.Get(ctx)
		if err != nil {
			return callResultMsg{err: fmt.Errorf("task %s timed out", task.name)}
		}
		return callResultMsg{result: v.String()}
	}
}

func (m *inspectorModel) View() string {
	var b strings.Builder

	switch m.state {
	case statePlugins:
		b.WriteString(titleStyle.Render("microhost — resident plugins"))
		b.WriteString("\n\n")
		if len(m.plugins) == 0 {
			b.WriteString(helpStyle.Render("no plugins resident; preload some with -load"))
			b.WriteString("\n")
		}
		for i, name := range m.plugins {
			line := "  " + name
			if i == m.pluginSel {
				line = selectedStyle.Render("> " + name)
			} else {
				line = itemStyle.Render(line)
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n" + helpStyle.Render("enter: inspect • r: refresh • q: quit"))

	case stateTasks:
		b.WriteString(titleStyle.Render("plugin " + m.plugin.Name()))
		b.WriteString("\n")
		b.WriteString(detailStyle.Render(fmt.Sprintf("version %d.%d", m.plugin.Major(), m.plugin.Minor())))
		b.WriteString("\n\n")
		for i, task := range m.tasks {
			line := fmt.Sprintf("  %s/%d", task.name, task.arity)
			if i == m.taskSel {
				line = selectedStyle.Render("> " + strings.TrimSpace(line))
			} else {
				line = itemStyle.Render(line)
			}
			b.WriteString(line + "\n")
			if i == m.taskSel && task.help != "" {
				b.WriteString(helpStyle.Render("    "+strings.ReplaceAll(task.help, "\n", "\n    ")) + "\n")
			}
		}
		b.WriteString("\n" + helpStyle.Render("enter: call • esc: back • q: quit"))

	case stateArgs:
		task := m.tasks[m.taskSel]
		b.WriteString(titleStyle.Render(fmt.Sprintf("%s/%d", task.name, task.arity)))
		b.WriteString("\n\n")
		for i := range m.inputs {
			b.WriteString(m.inputs[i].View() + "\n")
		}
		b.WriteString("\n" + helpStyle.Render("tab: next field • enter: call • esc: back"))

	case stateResult:
		b.WriteString(titleStyle.Render("result"))
		b.WriteString("\n\n")
		if m.err != nil {
			b.WriteString(errorStyle.Render(m.err.Error()))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n" + helpStyle.Render("q: quit • any other key: back"))
	}

	b.WriteString("\n")
	return b.String()
}
