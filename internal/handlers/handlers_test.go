package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/BatmanBruc/club-subscription-bot/internal/contextkeys"
	"github.com/BatmanBruc/club-subscription-bot/internal/scenario"
	"github.com/BatmanBruc/club-subscription-bot/types"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type fakeAPI struct {
	sent     []string
	answered int
}

func (f *fakeAPI) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.sent = append(f.sent, p.Text)
	return &models.Message{}, nil
}

func (f *fakeAPI) AnswerCallbackQuery(context.Context, *bot.AnswerCallbackQueryParams) (bool, error) {
	f.answered++
	return true, nil
}

func (f *fakeAPI) last() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type fakeUsers struct {
	types.UserStore
	byTG    map[int64]*types.User
	tags    map[int64][]string
	removed []string
}

func (f *fakeUsers) GetUserByTelegramID(_ context.Context, id int64) (*types.User, error) {
	u, ok := f.byTG[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) AddTag(_ context.Context, userID int64, tag string) error {
	f.tags[userID] = append(f.tags[userID], tag)
	return nil
}

func (f *fakeUsers) RemoveTag(_ context.Context, _ int64, tag string) error {
	f.removed = append(f.removed, tag)
	return nil
}

func (f *fakeUsers) Stats(context.Context) (*types.Stats, error) {
	return &types.Stats{Users: 10, ActiveSubscribers: 4, CompletedPayments: 7}, nil
}

type call struct {
	userID, chatID, scenarioID int64
	name, token                string
}

type fakeRunner struct {
	calls   []call
	err     error
	handled bool
}

func (f *fakeRunner) Start(_ context.Context, userID, chatID, scenarioID int64) (*types.Scenario, error) {
	f.calls = append(f.calls, call{userID: userID, chatID: chatID, scenarioID: scenarioID})
	if f.err != nil {
		return nil, f.err
	}
	return &types.Scenario{ID: scenarioID, Name: "welcome"}, nil
}

func (f *fakeRunner) StartByName(_ context.Context, userID, chatID int64, name string) (*types.Scenario, error) {
	f.calls = append(f.calls, call{userID: userID, chatID: chatID, name: name})
	return nil, f.err
}

func (f *fakeRunner) HandleCallback(_ context.Context, userID, chatID int64, token string) (bool, error) {
	f.calls = append(f.calls, call{userID: userID, chatID: chatID, token: token})
	return f.handled, f.err
}

type fakeBroadcasts struct {
	text    string
	segment types.BroadcastSegment
	tag     string
}

func (f *fakeBroadcasts) Create(_ context.Context, text string, segment types.BroadcastSegment, tag string, _ int64) (*types.Broadcast, error) {
	f.text, f.segment, f.tag = text, segment, tag
	return &types.Broadcast{ID: 5}, nil
}

type fixture struct {
	h          *Handlers
	api        *fakeAPI
	users      *fakeUsers
	runner     *fakeRunner
	broadcasts *fakeBroadcasts
}

func newFixture(startScenario string) *fixture {
	users := &fakeUsers{
		byTG: map[int64]*types.User{555: {ID: 3, TelegramID: 555}},
		tags: map[int64][]string{},
	}
	f := &fixture{
		api:        &fakeAPI{},
		users:      users,
		runner:     &fakeRunner{},
		broadcasts: &fakeBroadcasts{},
	}
	f.h = NewHandlers(Deps{
		API:           f.api,
		Users:         f.users,
		Scenarios:     f.runner,
		Broadcasts:    f.broadcasts,
		StartScenario: startScenario,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

var (
	member = &types.User{ID: 1, TelegramID: 100, Role: types.RoleUser}
	admin  = &types.User{ID: 2, TelegramID: 200, Role: types.RoleAdmin}
)

func (f *fixture) command(user *types.User, text string) {
	update := &models.Update{Message: &models.Message{Chat: models.Chat{ID: user.TelegramID}, Text: text}}
	ctx := contextkeys.WithUser(context.Background(), user)
	ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeCommand)
	f.h.MainHandler(ctx, nil, update)
}

func TestStartRunsDeepLinkOrDefault(t *testing.T) {
	f := newFixture("onboarding")
	f.command(member, "/start")
	f.command(member, "/start@club_bot spring")

	if len(f.runner.calls) != 2 || f.runner.calls[0].name != "onboarding" || f.runner.calls[1].name != "spring" {
		t.Fatalf("calls = %+v", f.runner.calls)
	}
	if f.runner.calls[0].chatID != 100 {
		t.Fatalf("chat = %d", f.runner.calls[0].chatID)
	}
	if len(f.api.sent) != 0 {
		t.Fatalf("unexpected replies %v", f.api.sent)
	}
}

func TestStartFallbacks(t *testing.T) {
	f := newFixture("")
	f.command(member, "/start")
	if len(f.runner.calls) != 0 || !strings.Contains(f.api.last(), "Привет") {
		t.Fatalf("no start scenario: calls %v, reply %q", f.runner.calls, f.api.last())
	}

	f = newFixture("vip")
	f.runner.err = scenario.ErrSubscriptionRequired
	f.command(member, "/start")
	if !strings.Contains(f.api.last(), "подписка") {
		t.Fatalf("reply = %q", f.api.last())
	}

	f.runner.err = fmt.Errorf("get scenario: %w", types.ErrNotFound)
	f.command(member, "/start")
	if !strings.Contains(f.api.last(), "Привет") {
		t.Fatalf("reply = %q", f.api.last())
	}
}

func TestAdminCommandsRequireAdmin(t *testing.T) {
	f := newFixture("")
	for _, cmd := range []string{"/stats", "/run_scenario 1 555", "/broadcast all hi", "/add_tag 555 vip"} {
		f.command(member, cmd)
		if !strings.Contains(f.api.last(), "Команда не найдена") {
			t.Fatalf("%s by member: %q", cmd, f.api.last())
		}
	}
	if len(f.runner.calls) != 0 || f.broadcasts.text != "" || len(f.users.tags) != 0 {
		t.Fatal("member reached an admin action")
	}
}

func TestRunScenario(t *testing.T) {
	f := newFixture("")
	f.command(admin, "/run_scenario 7 555")
	if len(f.runner.calls) != 1 {
		t.Fatalf("calls = %+v", f.runner.calls)
	}
	c := f.runner.calls[0]
	if c.userID != 3 || c.chatID != 555 || c.scenarioID != 7 {
		t.Fatalf("call = %+v", c)
	}
	if !strings.Contains(f.api.last(), "welcome") {
		t.Fatalf("reply = %q", f.api.last())
	}

	f.command(admin, "/run_scenario 7 999")
	if f.api.last() != "Пользователь не найден." {
		t.Fatalf("reply = %q", f.api.last())
	}
	f.command(admin, "/run_scenario x")
	if !strings.Contains(f.api.last(), "/run_scenario") {
		t.Fatalf("reply = %q", f.api.last())
	}
}

func TestBroadcastCommand(t *testing.T) {
	f := newFixture("")
	f.command(admin, "/broadcast tag:vip Скидка 20%\nтолько сегодня")
	if f.broadcasts.segment != types.SegmentTag || f.broadcasts.tag != "vip" {
		t.Fatalf("segment = %q tag = %q", f.broadcasts.segment, f.broadcasts.tag)
	}
	if f.broadcasts.text != "Скидка 20%\nтолько сегодня" {
		t.Fatalf("text = %q", f.broadcasts.text)
	}
	if !strings.Contains(f.api.last(), "#5") {
		t.Fatalf("reply = %q", f.api.last())
	}

	f.command(admin, "/broadcast everyone hi")
	if !strings.Contains(f.api.last(), "/broadcast") {
		t.Fatalf("reply = %q", f.api.last())
	}
}

func TestStatsAndTags(t *testing.T) {
	f := newFixture("")
	f.command(admin, "/stats")
	if !strings.Contains(f.api.last(), "Пользователей: 10") {
		t.Fatalf("reply = %q", f.api.last())
	}

	manager := &types.User{ID: 4, TelegramID: 400, Role: types.RoleManager}
	f.command(manager, "/add_tag 555 early bird")
	if got := f.users.tags[3]; len(got) != 1 || got[0] != "early bird" {
		t.Fatalf("tags = %v", got)
	}
	f.command(manager, "/remove_tag 555 vip")
	if len(f.users.removed) != 1 || f.users.removed[0] != "vip" {
		t.Fatalf("removed = %v", f.users.removed)
	}
}

func TestClickButton(t *testing.T) {
	f := newFixture("")
	f.runner.handled = true
	update := &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:      "cb1",
		Data:    "about",
		Message: models.MaybeInaccessibleMessage{Message: &models.Message{Chat: models.Chat{ID: 100}}},
	}}
	ctx := contextkeys.WithUser(context.Background(), member)
	ctx = contextkeys.WithMessageType(ctx, contextkeys.MessageTypeClickButton)
	ctx = contextkeys.WithCallbackData(ctx, "about")

	f.h.MainHandler(ctx, nil, update)
	if f.api.answered != 1 {
		t.Fatal("callback not answered")
	}
	if len(f.runner.calls) != 1 || f.runner.calls[0].token != "about" || f.runner.calls[0].chatID != 100 {
		t.Fatalf("calls = %+v", f.runner.calls)
	}

	f.runner.err = errors.New("db down")
	f.h.MainHandler(ctx, nil, update)
	if !strings.Contains(f.api.last(), "Ошибка") {
		t.Fatalf("reply = %q", f.api.last())
	}
}
