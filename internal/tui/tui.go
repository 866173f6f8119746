package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/jesseduffield/gocui"
	"go.uber.org/zap"

	"github.com/Joseda-hg/socius/internal/cache"
	"github.com/Joseda-hg/socius/internal/model"
	"github.com/Joseda-hg/socius/internal/notify"
	"github.com/Joseda-hg/socius/internal/report"
	"github.com/Joseda-hg/socius/internal/taskstate"
	"github.com/Joseda-hg/socius/internal/watch"
	"github.com/Joseda-hg/socius/internal/workflow"
)

const (
	viewHeader    = "header"
	viewFooter    = "footer"
	viewDashboard = "dashboard"
	viewMine      = "mine"
	viewTeam      = "team"
	viewCalendar  = "calendar"
)

var focusOrder = []string{viewDashboard, viewMine, viewTeam, viewCalendar}

type Deps struct {
	Cache    *cache.Cache
	Watcher  *watch.Watcher
	Workflow *workflow.Service
	Feed     *notify.Feed
	Actor    model.Actor
	TeamID   string
	Location *time.Location
	Interval time.Duration
	Logger   *zap.Logger
}

type UI struct {
	deps Deps
	gui  *gocui.Gui
	ctx  context.Context
	wg   sync.WaitGroup
	now  func() time.Time

	dashboard report.Dashboard
	mine      []model.Task
	team      []model.Task
	days      []report.Day
	calendar  []model.Task

	selectedMine     int
	selectedTeam     int
	selectedCalendar int
	focus            string
}

func newUI(ctx context.Context, deps Deps) *UI {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Feed == nil {
		deps.Feed = notify.NewFeed(0)
	}
	return &UI{deps: deps, ctx: ctx, now: time.Now, focus: viewMine}
}

// Run opens the terminal UI and blocks until the user quits. The watcher runs
// for as long as the UI is open and has stopped by the time Run returns.
func Run(ctx context.Context, deps Deps) error {
	gui, err := gocui.NewGui(gocui.NewGuiOpts{OutputMode: gocui.OutputNormal})
	if err != nil {
		return err
	}
	defer gui.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ui := newUI(ctx, deps)
	ui.gui = gui
	gui.Mouse = true
	gui.SetManagerFunc(ui.layout)
	if err := ui.bindKeys(gui); err != nil {
		return err
	}

	events, unsubscribe := deps.Cache.Subscribe()
	ui.deps.Feed.OnNotify = func(model.Notification) { ui.redraw() }
	ui.refresh()

	ui.wg.Add(2)
	go func() {
		defer ui.wg.Done()
		if err := deps.Watcher.Run(ctx); err != nil {
			deps.Logger.Error("watcher stopped", zap.Error(err))
		}
	}()
	go func() {
		defer ui.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				gui.Update(func(*gocui.Gui) error {
					ui.refresh()
					return nil
				})
			}
		}
	}()

	err = gui.MainLoop()
	cancel()
	unsubscribe()
	ui.wg.Wait()

	if err != nil && !goerrors.Is(err, gocui.ErrQuit) {
		return err
	}
	return nil
}

func (u *UI) bindKeys(gui *gocui.Gui) error {
	global := []struct {
		key     any
		handler func(*gocui.Gui, *gocui.View) error
	}{
		{gocui.KeyCtrlC, u.quit},
		{'q', u.quit},
		{'r', u.reload},
		{gocui.KeyTab, u.switchFocus},
		{'1', u.focusDashboard},
		{'2', u.focusMine},
		{'3', u.focusTeam},
		{'4', u.focusCalendar},
		{'p', u.submitForReview},
		{'i', u.resume},
		{'c', u.approve},
	}
	for _, binding := range global {
		if err := gui.SetKeybinding("", binding.key, gocui.ModNone, binding.handler); err != nil {
			return err
		}
	}

	for _, name := range []string{viewMine, viewTeam, viewCalendar} {
		if err := gui.SetKeybinding(name, gocui.KeyArrowDown, gocui.ModNone, u.moveDown); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, 'j', gocui.ModNone, u.moveDown); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, gocui.KeyArrowUp, gocui.ModNone, u.moveUp); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, 'k', gocui.ModNone, u.moveUp); err != nil {
			return err
		}
	}
	for _, name := range []string{viewMine, viewTeam} {
		if err := gui.SetViewClickBinding(&gocui.ViewMouseBinding{ViewName: name, Key: gocui.MouseLeft, Handler: func(opts gocui.ViewMouseBindingOpts) error {
			return u.onListClick(gui, name, opts)
		}}); err != nil {
			return err
		}
	}
	return nil
}

func (u *UI) layout(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	if maxX <= 0 || maxY <= 0 {
		return nil
	}

	headerView, err := gui.SetView(viewHeader, 0, 0, maxX-1, 0, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	headerView.Frame = false
	headerView.FgColor = gocui.ColorDefault
	u.renderHeader(headerView)

	footerY1 := max(maxY-2, 1)
	footerY0 := max(footerY1-2, 1)
	footerView, err := gui.SetView(viewFooter, 0, footerY0, maxX-1, footerY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	footerView.Frame = false
	footerView.Wrap = true
	footerView.FgColor = gocui.ColorDefault | gocui.AttrDim
	u.renderFooter(footerView)

	bodyTop := 1
	bodyBottom := footerY0 - 1
	if bodyBottom < bodyTop {
		return nil
	}

	l := computeLayout(maxX, bodyBottom-bodyTop+1)
	leftX1 := l.leftWidth - 1
	rightX0 := min(leftX1+1, maxX-1)
	topY1 := bodyTop + l.topHeight - 1

	panes := []struct {
		name           string
		title          string
		color          gocui.Attribute
		x0, y0, x1, y1 int
	}{
		{viewDashboard, "1 Dashboard", gocui.ColorCyan, 0, bodyTop, leftX1, topY1},
		{viewMine, "2 My Tasks", gocui.ColorGreen, rightX0, bodyTop, maxX - 1, topY1},
		{viewCalendar, "4 Calendar", gocui.ColorYellow, 0, topY1 + 1, leftX1, bodyBottom},
		{viewTeam, "3 Team Board", gocui.ColorMagenta, rightX0, topY1 + 1, maxX - 1, bodyBottom},
	}
	for _, pane := range panes {
		view, err := gui.SetView(pane.name, pane.x0, pane.y0, pane.x1, pane.y1, 0)
		if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
			return err
		}
		if goerrors.Is(err, gocui.ErrUnknownView) {
			view.Title = pane.title
			view.TitleColor = pane.color
		}
		focused := u.focus == pane.name
		applyViewStyle(view, focused, pane.name != viewDashboard)
		switch pane.name {
		case viewDashboard:
			u.renderDashboard(view)
		case viewMine:
			renderTaskList(view, u.mine, u.selectedMine, focused, u.now())
		case viewTeam:
			renderTaskList(view, u.team, u.selectedTeam, focused, u.now())
		case viewCalendar:
			u.renderCalendar(view, focused)
		}
	}

	_, _ = gui.SetViewOnTop(viewHeader)
	_, _ = gui.SetViewOnTop(viewFooter)
	if gui.CurrentView() == nil {
		_, _ = gui.SetCurrentView(u.focus)
	}
	return nil
}

type layout struct {
	leftWidth int
	topHeight int
}

func computeLayout(width, height int) layout {
	safeWidth := max(width, 40)
	safeHeight := max(height, 8)

	leftWidth := safeWidth * 2 / 5
	if leftWidth < 30 {
		leftWidth = min(30, safeWidth/2)
	}
	topHeight := max(safeHeight/2, 4)
	return layout{leftWidth: leftWidth, topHeight: topHeight}
}

// refresh rebuilds every pane's rows from the cache. It runs on the UI
// goroutine.
func (u *UI) refresh() {
	now := u.now()
	all := u.deps.Cache.List(model.Filter{})
	u.dashboard = report.Summarize(all, now)
	u.mine = u.deps.Cache.List(model.Filter{AssigneeID: u.deps.Actor.UserID})
	u.team = u.deps.Cache.List(model.Filter{TeamID: u.deps.TeamID})
	u.days = report.Calendar(all, u.deps.Location)
	u.calendar = u.calendar[:0]
	for _, day := range u.days {
		u.calendar = append(u.calendar, day.Tasks...)
	}

	u.selectedMine = clamp(u.selectedMine, len(u.mine))
	u.selectedTeam = clamp(u.selectedTeam, len(u.team))
	u.selectedCalendar = clamp(u.selectedCalendar, len(u.calendar))
}

func clamp(index, length int) int {
	if index >= length {
		return max(length-1, 0)
	}
	return max(index, 0)
}

func (u *UI) renderHeader(view *gocui.View) {
	view.Clear()
	role := "member"
	if u.deps.Actor.TeamLeader {
		role = "leader"
	}
	team := u.deps.TeamID
	if team == "" {
		team = "all"
	}
	fmt.Fprintf(view, "socius | user: %s (%s) | team: %s | %d tasks | checked every %s",
		u.deps.Actor.UserID, role, team, u.deps.Cache.Len(), u.deps.Interval)
}

func (u *UI) renderFooter(view *gocui.View) {
	view.Clear()
	view.SetOrigin(0, 0)
	fmt.Fprintln(view, "tab/1-4 panes | j/k move | p submit for review | i resume | c approve | r reload | q quit")
	if n, ok := u.deps.Feed.Latest(); ok {
		fmt.Fprintf(view, "[%s] %s %s", n.At.In(u.deps.Location).Format("15:04:05"), strings.ToUpper(string(n.Level)), n.Message)
	}
}

func (u *UI) renderDashboard(view *gocui.View) {
	view.Clear()
	d := u.dashboard
	lines := []string{
		fmt.Sprintf("Total:        %d", d.Total),
		fmt.Sprintf("In progress:  %d", d.ByStatus[model.StatusInProgress]),
		fmt.Sprintf("Pending:      %d", d.ByStatus[model.StatusPending]),
		fmt.Sprintf("Completed:    %d", d.ByStatus[model.StatusCompleted]),
		fmt.Sprintf("Failed:       %d", d.ByStatus[model.StatusFailed]),
		fmt.Sprintf("Due in 24h:   %d", d.DueSoon),
		fmt.Sprintf("Completion:   %.0f%%", d.CompletionRate*100),
	}

	if selected := u.selectedTask(); selected != nil {
		lines = append(lines, "", selected.Name)
		lines = append(lines, u.describeTask(*selected)...)
	}
	fmt.Fprint(view, strings.Join(lines, "\n"))
}

func (u *UI) describeTask(task model.Task) []string {
	now := u.now()
	assignee := task.AssignedTo.FullName()
	if assignee == "" {
		assignee = task.AssignedTo.ID
	}
	lines := []string{
		fmt.Sprintf("Status:   %s", taskstate.Derive(task, now).Status),
		fmt.Sprintf("Deadline: %s", report.Relative(task.Deadline, now)),
		fmt.Sprintf("Assignee: %s", assignee),
	}
	allowed := taskstate.Allowed(task, u.deps.Actor, now)
	if len(allowed) > 0 {
		keys := make([]string, 0, len(allowed))
		for _, target := range allowed {
			keys = append(keys, actionKey(target))
		}
		lines = append(lines, "Actions:  "+strings.Join(keys, ", "))
	}
	if desc := strings.TrimSpace(task.Description); desc != "" {
		lines = append(lines, "", desc)
	}
	return lines
}

func actionKey(target model.Status) string {
	switch target {
	case model.StatusPending:
		return "p submit"
	case model.StatusInProgress:
		return "i resume"
	case model.StatusCompleted:
		return "c approve"
	default:
		return string(target)
	}
}

func renderTaskList(view *gocui.View, tasks []model.Task, selected int, focused bool, now time.Time) {
	view.Clear()
	for i, task := range tasks {
		prefix := " "
		if i == selected {
			if focused {
				prefix = ">"
			} else {
				prefix = "*"
			}
		}
		fmt.Fprintf(view, "%s %s\n", prefix, formatTaskLine(task, now))
	}
	if focused {
		view.SetCursor(0, min(selected, len(tasks)-1))
	}
}

func (u *UI) renderCalendar(view *gocui.View, focused bool) {
	view.Clear()
	row, index, cursor := 0, 0, 0
	for _, day := range u.days {
		fmt.Fprintln(view, day.Label())
		row++
		for _, task := range day.Tasks {
			prefix := " "
			if index == u.selectedCalendar {
				prefix = "*"
				if focused {
					prefix = ">"
				}
				cursor = row
			}
			fmt.Fprintf(view, "%s   %s\n", prefix, formatTaskLine(task, u.now()))
			row++
			index++
		}
	}
	if focused {
		view.SetCursor(0, cursor)
	}
}

// formatTaskLine shows the derived status so overdue tasks read as failed even
// before the watcher has saved them.
func formatTaskLine(task model.Task, now time.Time) string {
	status := taskstate.Derive(task, now).Status
	return fmt.Sprintf("[%-11s] %s (%s)", status, task.Name, report.Relative(task.Deadline, now))
}

func (u *UI) onListClick(gui *gocui.Gui, viewName string, opts gocui.ViewMouseBindingOpts) error {
	view, err := gui.View(viewName)
	if err != nil {
		return nil
	}
	_, y0, _, _ := view.Dimensions()
	_, oy := view.Origin()
	row := max(opts.Y-y0-1+oy, 0)

	switch viewName {
	case viewMine:
		u.selectedMine = clamp(row, len(u.mine))
	case viewTeam:
		u.selectedTeam = clamp(row, len(u.team))
	}
	return u.setFocus(gui, viewName)
}

func (u *UI) selectedTask() *model.Task {
	switch u.focus {
	case viewTeam:
		if u.selectedTeam < len(u.team) {
			return &u.team[u.selectedTeam]
		}
	case viewCalendar:
		if u.selectedCalendar < len(u.calendar) {
			return &u.calendar[u.selectedCalendar]
		}
	default:
		if u.selectedMine < len(u.mine) {
			return &u.mine[u.selectedMine]
		}
	}
	return nil
}

func (u *UI) switchFocus(gui *gocui.Gui, _ *gocui.View) error {
	next := focusOrder[0]
	for i, name := range focusOrder {
		if name == u.focus {
			next = focusOrder[(i+1)%len(focusOrder)]
			break
		}
	}
	return u.setFocus(gui, next)
}

func (u *UI) focusDashboard(gui *gocui.Gui, _ *gocui.View) error {
	return u.setFocus(gui, viewDashboard)
}

func (u *UI) focusMine(gui *gocui.Gui, _ *gocui.View) error {
	return u.setFocus(gui, viewMine)
}

func (u *UI) focusTeam(gui *gocui.Gui, _ *gocui.View) error {
	return u.setFocus(gui, viewTeam)
}

func (u *UI) focusCalendar(gui *gocui.Gui, _ *gocui.View) error {
	return u.setFocus(gui, viewCalendar)
}

func (u *UI) setFocus(gui *gocui.Gui, name string) error {
	u.focus = name
	if gui != nil {
		_, _ = gui.SetCurrentView(name)
	}
	return nil
}

func (u *UI) moveDown(_ *gocui.Gui, _ *gocui.View) error {
	switch u.focus {
	case viewMine:
		if u.selectedMine < len(u.mine)-1 {
			u.selectedMine++
		}
	case viewTeam:
		if u.selectedTeam < len(u.team)-1 {
			u.selectedTeam++
		}
	case viewCalendar:
		if u.selectedCalendar < len(u.calendar)-1 {
			u.selectedCalendar++
		}
	}
	return nil
}

func (u *UI) moveUp(_ *gocui.Gui, _ *gocui.View) error {
	switch u.focus {
	case viewMine:
		if u.selectedMine > 0 {
			u.selectedMine--
		}
	case viewTeam:
		if u.selectedTeam > 0 {
			u.selectedTeam--
		}
	case viewCalendar:
		if u.selectedCalendar > 0 {
			u.selectedCalendar--
		}
	}
	return nil
}

func (u *UI) reload(_ *gocui.Gui, _ *gocui.View) error {
	u.spawn(func(ctx context.Context) {
		if err := u.deps.Watcher.Refresh(ctx); err != nil {
			if ctx.Err() == nil {
				notify.Error(u.deps.Feed, "", fmt.Sprintf("Reload failed: %v", err))
			}
			return
		}
		u.deps.Watcher.ReconcileOnce(ctx)
	})
	return nil
}

func (u *UI) submitForReview(_ *gocui.Gui, _ *gocui.View) error {
	return u.transitionSelected(model.StatusPending)
}

func (u *UI) resume(_ *gocui.Gui, _ *gocui.View) error {
	return u.transitionSelected(model.StatusInProgress)
}

func (u *UI) approve(_ *gocui.Gui, _ *gocui.View) error {
	return u.transitionSelected(model.StatusCompleted)
}

// transitionSelected requests the change off the UI goroutine; the result
// reaches the panes through cache events and the notification feed.
func (u *UI) transitionSelected(target model.Status) error {
	selected := u.selectedTask()
	if selected == nil {
		return nil
	}
	taskID := selected.ID
	u.spawn(func(ctx context.Context) {
		if _, err := u.deps.Workflow.RequestTransition(ctx, taskID, u.deps.Actor, target); err != nil {
			u.deps.Logger.Debug("transition not applied",
				zap.String("task_id", taskID),
				zap.String("target", string(target)),
				zap.Error(err))
		}
	})
	return nil
}

func (u *UI) spawn(fn func(ctx context.Context)) {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		fn(u.ctx)
	}()
}

func (u *UI) redraw() {
	if u.gui == nil || u.ctx.Err() != nil {
		return
	}
	u.gui.Update(func(*gocui.Gui) error { return nil })
}

func (u *UI) quit(_ *gocui.Gui, _ *gocui.View) error {
	return gocui.ErrQuit
}

func applyViewStyle(view *gocui.View, focused bool, highlight bool) {
	view.Frame = true
	view.Highlight = focused && highlight
	view.HighlightInactive = false
	view.SelBgColor = gocui.ColorBlue
	view.SelFgColor = gocui.ColorBlack
	view.InactiveViewSelBgColor = gocui.ColorDefault
	if focused {
		view.FrameColor = gocui.ColorCyan
		view.TitleColor = gocui.ColorCyan
	} else {
		view.FrameColor = gocui.ColorDefault
	}
}
