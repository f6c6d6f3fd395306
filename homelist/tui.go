package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/homelist/listsync/listsync"
)

type tabId int

const (
	tabTasks tabId = iota
	tabShopping
)

var tabNames = map[tabId]string{
	tabTasks:    "Tasks",
	tabShopping: "Shopping",
}

// the controllers emit these from their callbacks (see main.go)
type storeChangedMsg struct{}
type syncErrorMsg struct {
	message string
}

type refreshedMsg struct {
	tab tabId
}

type model struct {
	tasks    *listsync.ListController[*listsync.Task]
	shopping *listsync.ListController[*listsync.ShoppingItem]

	tab    tabId
	cursor map[tabId]int

	adding bool
	input  textinput.Model

	spin spinner.Model
	// initial loads still in flight
	pendingLoads int

	errMessage string

	width int
}

func newModel(
	tasks *listsync.ListController[*listsync.Task],
	shopping *listsync.ListController[*listsync.ShoppingItem],
) model {
	input := textinput.New()
	input.Placeholder = "What needs doing?"
	input.CharLimit = 120

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return model{
		tasks:    tasks,
		shopping: shopping,
		tab:      tabTasks,
		cursor: map[tabId]int{
			tabTasks:    0,
			tabShopping: 0,
		},
		input:        input,
		spin:         spin,
		pendingLoads: 2,
	}
}

func (self model) Init() tea.Cmd {
	return tea.Batch(
		self.spin.Tick,
		self.refreshCmd(tabTasks),
		self.refreshCmd(tabShopping),
	)
}

func (self model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		self.width = msg.Width
		return self, nil

	case spinner.TickMsg:
		if self.pendingLoads == 0 {
			return self, nil
		}
		var cmd tea.Cmd
		self.spin, cmd = self.spin.Update(msg)
		return self, cmd

	case storeChangedMsg:
		self.clampCursor()
		return self, nil

	case syncErrorMsg:
		self.errMessage = msg.message
		return self, nil

	case refreshedMsg:
		if self.pendingLoads > 0 {
			self.pendingLoads -= 1
		}
		self.clampCursor()
		return self, nil

	case tea.KeyMsg:
		if self.adding {
			return self.updateAdding(msg)
		}
		return self.updateList(msg)
	}

	return self, nil
}

func (self model) updateAdding(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		self.adding = false
		self.input.Reset()
		return self, nil
	case "enter":
		text := strings.TrimSpace(self.input.Value())
		self.adding = false
		self.input.Reset()
		if text == "" {
			return self, nil
		}
		return self, self.addCmd(self.tab, text)
	}
	var cmd tea.Cmd
	self.input, cmd = self.input.Update(msg)
	return self, cmd
}

func (self model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return self, tea.Quit

	case "tab":
		self.tab = (self.tab + 1) % 2
		self.errMessage = ""
		// refetch on focus so a stale screen converges
		return self, self.refreshCmd(self.tab)

	case "up", "k":
		if self.cursor[self.tab] > 0 {
			self.cursor[self.tab] -= 1
		}
		return self, nil

	case "down", "j":
		if self.cursor[self.tab] < self.size(self.tab)-1 {
			self.cursor[self.tab] += 1
		}
		return self, nil

	case "a":
		self.adding = true
		self.errMessage = ""
		if self.tab == tabShopping {
			self.input.Placeholder = "What do we need?"
		} else {
			self.input.Placeholder = "What needs doing?"
		}
		self.input.Focus()
		return self, textinput.Blink

	case " ":
		self.errMessage = ""
		return self, self.toggleCmd()

	case "d", "x":
		self.errMessage = ""
		return self, self.removeCmd()

	case "+", "=":
		self.errMessage = ""
		return self, self.quantityCmd(1)

	case "-", "_":
		self.errMessage = ""
		return self, self.quantityCmd(-1)

	case "r":
		self.errMessage = ""
		return self, self.refreshCmd(self.tab)
	}

	return self, nil
}

func (self model) refreshCmd(tab tabId) tea.Cmd {
	return func() tea.Msg {
		switch tab {
		case tabTasks:
			self.tasks.Refresh()
		case tabShopping:
			self.shopping.Refresh()
		}
		return refreshedMsg{tab: tab}
	}
}

func (self model) addCmd(tab tabId, text string) tea.Cmd {
	return func() tea.Msg {
		switch tab {
		case tabTasks:
			self.tasks.Add(map[string]any{"title": text})
		case tabShopping:
			self.shopping.Add(map[string]any{"name": text})
		}
		return nil
	}
}

func (self model) toggleCmd() tea.Cmd {
	switch self.tab {
	case tabTasks:
		task, ok := selected(self.tasks.Items(), self.cursor[self.tab])
		if !ok {
			return nil
		}
		return func() tea.Msg {
			self.tasks.Toggle(task.TaskId)
			return nil
		}
	case tabShopping:
		item, ok := selected(self.shopping.Items(), self.cursor[self.tab])
		if !ok {
			return nil
		}
		return func() tea.Msg {
			self.shopping.Toggle(item.ShoppingItemId)
			return nil
		}
	}
	return nil
}

func (self model) removeCmd() tea.Cmd {
	switch self.tab {
	case tabTasks:
		task, ok := selected(self.tasks.Items(), self.cursor[self.tab])
		if !ok {
			return nil
		}
		return func() tea.Msg {
			self.tasks.Remove(task.TaskId)
			return nil
		}
	case tabShopping:
		item, ok := selected(self.shopping.Items(), self.cursor[self.tab])
		if !ok {
			return nil
		}
		return func() tea.Msg {
			self.shopping.Remove(item.ShoppingItemId)
			return nil
		}
	}
	return nil
}

func (self model) quantityCmd(delta int) tea.Cmd {
	if self.tab != tabShopping {
		return nil
	}
	item, ok := selected(self.shopping.Items(), self.cursor[self.tab])
	if !ok {
		return nil
	}
	return func() tea.Msg {
		listsync.AdjustQuantity(self.shopping, item.ShoppingItemId, delta)
		return nil
	}
}

func selected[T any](items []T, index int) (T, bool) {
	var empty T
	if index < 0 || len(items) <= index {
		return empty, false
	}
	return items[index], true
}

func (self model) size(tab tabId) int {
	switch tab {
	case tabTasks:
		return self.tasks.Size()
	case tabShopping:
		return self.shopping.Size()
	}
	return 0
}

func (self *model) clampCursor() {
	for tab := range self.cursor {
		size := self.size(tab)
		if size == 0 {
			self.cursor[tab] = 0
		} else if size <= self.cursor[tab] {
			self.cursor[tab] = size - 1
		}
	}
}

func (self model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("home list"))
	b.WriteString("  ")
	for tab := tabTasks; tab <= tabShopping; tab += 1 {
		if tab == self.tab {
			b.WriteString(activeTab.Render(tabNames[tab]))
		} else {
			b.WriteString(tabStyle.Render(tabNames[tab]))
		}
	}
	b.WriteString("\n\n")

	if self.pendingLoads > 0 {
		b.WriteString(self.spin.View())
		b.WriteString(mutedStyle.Render(" loading..."))
		b.WriteString("\n")
	} else {
		b.WriteString(panelString(self.listView()))
		b.WriteString("\n")
	}

	if self.adding {
		b.WriteString(self.input.View())
		b.WriteString("\n")
	}

	if self.errMessage != "" {
		b.WriteString(errorStyle.Render(self.errMessage))
		b.WriteString("\n")
	}

	help := "tab switch · ↑/↓ move · space done · a add · d delete · r refresh · q quit"
	if self.tab == tabShopping {
		help = "tab switch · ↑/↓ move · space done · a add · +/- qty · d delete · r refresh · q quit"
	}
	b.WriteString(helpStyle.Render(help))
	b.WriteString("\n")

	return b.String()
}

func (self model) listView() string {
	var rows []string
	switch self.tab {
	case tabTasks:
		for i, task := range self.tasks.Items() {
			rows = append(rows, self.row(i, task.Completed, task.Title, ""))
		}
	case tabShopping:
		for i, item := range self.shopping.Items() {
			badge := badgeStyle.Render(fmt.Sprintf(" x%d", item.ItemQuantity()))
			rows = append(rows, self.row(i, item.Completed, item.Name, badge))
		}
	}
	if len(rows) == 0 {
		return mutedStyle.Render("Nothing here yet. Press a to add.")
	}
	return strings.Join(rows, "\n")
}

func (self model) row(index int, completed bool, text string, badge string) string {
	box := boxUnchecked
	if completed {
		box = boxChecked
	}
	line := fmt.Sprintf("%s %s", box, text)
	if completed {
		line = fmt.Sprintf("%s %s", box, doneStyle.Render(text))
	}
	line += badge
	if index == self.cursor[self.tab] {
		return selectedStyle.Render("› ") + line
	}
	return "  " + line
}
