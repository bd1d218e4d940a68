// Package sim is an in-process stand-in for the chat window and the game bot.
//
// It renders the bot's real reply templates, rolls results from the game
// data table, stacks chat bubbles whose height grows with the item level, and
// delays replies by a number of readings. Fault injection covers empty
// readings, read errors and send errors. The control loop cannot tell it from
// the desktop driver, which makes it the dry-run driver and the test fixture.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/haricheung/swordbot/internal/gamedata"
	"github.com/haricheung/swordbot/internal/logger"
	"github.com/haricheung/swordbot/internal/types"
)

// ErrInjected is returned by injected read and send failures.
var ErrInjected = errors.New("sim: injected failure")

// Commands are the literal chat commands the bot reacts to.
type Commands struct {
	Enhance string
	Sell    string
	Profile string
}

// Config describes the simulated session.
type Config struct {
	Seed     uint64
	Player   string
	Level    int
	Gold     int64
	Commands Commands

	// ReplyAfterReads delays each bot reply until that many readings have
	// been taken after the command. 0 shows replies immediately.
	ReplyAfterReads int
	// Anchor is the click height in pixels above the bottom of the chat for
	// offset 0; a negative offset moves the click up. Gap separates bubbles.
	Anchor int
	Gap    int

	// Every Nth read/send fails; every Nth read returns empty text. 0 disables.
	ReadFailEvery  int
	SendFailEvery  int
	EmptyReadEvery int

	// Script forces the next enhance results in order before dice are rolled.
	Script []types.OutcomeKind
}

// DefaultCommands are the bot's stock commands.
func DefaultCommands() Commands {
	return Commands{Enhance: "/ㄱ", Sell: "/판", Profile: "/프로필"}
}

type bubble struct {
	text   string
	height int
}

type pending struct {
	b    bubble
	wait int
}

// Game implements the game driver interface over a simulated chat.
type Game struct {
	log *logger.Logger
	mu  sync.Mutex
	cfg Config
	rng *rand.Rand

	level   int
	gold    int64
	item    string
	script  []types.OutcomeKind
	bubbles []bubble
	queue   []pending
	reads   int
	sends   int
}

// New creates a simulated game. Zero-valued layout fields get defaults.
func New(cfg Config, log *logger.Logger) *Game {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Commands == (Commands{}) {
		cfg.Commands = DefaultCommands()
	}
	if cfg.Anchor == 0 {
		cfg.Anchor = 20
	}
	if cfg.Gap == 0 {
		cfg.Gap = 10
	}
	if cfg.Player == "" {
		cfg.Player = "tester"
	}
	g := &Game{
		log:    log,
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		level:  cfg.Level,
		gold:   cfg.Gold,
		script: append([]types.OutcomeKind(nil), cfg.Script...),
	}
	g.item = itemName(g.level, 0)
	return g
}

// SendCommand posts cmd to the chat and queues the bot's reply.
func (g *Game) SendCommand(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sends++
	if every(g.cfg.SendFailEvery, g.sends) {
		return fmt.Errorf("send %q: %w", cmd, ErrInjected)
	}
	g.bubbles = append(g.bubbles, bubble{text: cmd, height: 30})

	var reply bubble
	switch strings.TrimSpace(cmd) {
	case g.cfg.Commands.Enhance:
		reply = g.enhance()
	case g.cfg.Commands.Sell:
		reply = g.sell()
	case g.cfg.Commands.Profile:
		reply = g.profile()
	default:
		return nil
	}
	g.log.Debug("[SIM] reply queued", "cmd", cmd, "level", g.level, "gold", g.gold)
	if g.cfg.ReplyAfterReads <= 0 {
		g.bubbles = append(g.bubbles, reply)
		return nil
	}
	g.queue = append(g.queue, pending{b: reply, wait: g.cfg.ReplyAfterReads})
	return nil
}

// TakeReading returns the text of the bubble under the click point.
//
// Expectations:
//   - Queued replies become visible once their reading countdown reaches zero
//   - Offset 0 lands on the newest bubble with the default layout
//   - A click in a gap or above all bubbles returns ""
//   - Injected failures return ErrInjected; injected empties return ""
func (g *Game) TakeReading(ctx context.Context, offset int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.reads++
	g.flush()
	if every(g.cfg.ReadFailEvery, g.reads) {
		return "", fmt.Errorf("read at %d: %w", offset, ErrInjected)
	}
	if every(g.cfg.EmptyReadEvery, g.reads) {
		return "", nil
	}

	click := g.cfg.Anchor - offset
	pos := 0
	for i := len(g.bubbles) - 1; i >= 0; i-- {
		pos += g.cfg.Gap
		b := g.bubbles[i]
		if click >= pos && click < pos+b.height {
			return b.text, nil
		}
		pos += b.height
	}
	return "", nil
}

// Truth returns the simulator's real level and gold.
func (g *Game) Truth() (level int, gold int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level, g.gold
}

// Sends returns how many commands were sent, including failed ones.
func (g *Game) Sends() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sends
}

// flush must be called with g.mu held.
func (g *Game) flush() {
	kept := g.queue[:0]
	for _, p := range g.queue {
		p.wait--
		if p.wait <= 0 {
			g.bubbles = append(g.bubbles, p.b)
			continue
		}
		kept = append(kept, p)
	}
	g.queue = kept
}

func (g *Game) nextKind() types.OutcomeKind {
	if len(g.script) > 0 {
		k := g.script[0]
		g.script = g.script[1:]
		return k
	}
	row := gamedata.At(g.level)
	r := g.rng.Float64()
	switch {
	case r < row.Success:
		return types.KindSuccess
	case r < row.Success+row.Maintain:
		return types.KindMaintain
	}
	return types.KindDestroy
}

func (g *Game) enhance() bubble {
	if g.level >= gamedata.MaxLevel {
		return bubble{text: "더 이상 강화할 수 없습니다.", height: 40}
	}
	cost := gamedata.Cost(g.level)
	if g.gold < cost {
		return bubble{text: fmt.Sprintf("골드가 부족합니다. (필요: %sG)", commas(cost)), height: 40}
	}
	g.gold -= cost

	var sb strings.Builder
	switch g.nextKind() {
	case types.KindSuccess:
		from := g.level
		g.level++
		g.item = itemName(g.level, g.rng.IntN(len(itemSuffixes)))
		fmt.Fprintf(&sb, "〖✨강화 성공✨ +%d → +%d〗\n", from, g.level)
		fmt.Fprintf(&sb, "🗡️ 획득 검: [+%d] %s\n", g.level, g.item)
		fmt.Fprintf(&sb, "💸 사용 골드: -%sG\n", commas(cost))
		fmt.Fprintf(&sb, "💰 남은 골드: %sG", commas(g.gold))
		return bubble{text: sb.String(), height: 80 + 6*g.level}
	case types.KindMaintain:
		fmt.Fprintf(&sb, "〖💦강화 유지💦〗\n")
		fmt.Fprintf(&sb, "『[+%d] %s』의 레벨이 유지되었습니다.\n", g.level, g.item)
		fmt.Fprintf(&sb, "💸 사용 골드: -%sG\n", commas(cost))
		fmt.Fprintf(&sb, "💰 남은 골드: %sG", commas(g.gold))
		return bubble{text: sb.String(), height: 100}
	default:
		old, oldItem := g.level, g.item
		g.level = 0
		g.item = itemName(0, g.rng.IntN(len(itemSuffixes)))
		fmt.Fprintf(&sb, "〖💥강화 파괴💥〗\n")
		fmt.Fprintf(&sb, "『[+%d] %s』이(가) 산산조각 났습니다.\n", old, oldItem)
		fmt.Fprintf(&sb, "💸 사용 골드: -%sG\n", commas(cost))
		fmt.Fprintf(&sb, "💰 남은 골드: %sG", commas(g.gold))
		return bubble{text: sb.String(), height: 100}
	}
}

func (g *Game) sell() bubble {
	if g.level == 0 {
		return bubble{text: "0강 검은 판매할 수 없습니다.", height: 40}
	}
	price := gamedata.SellPrice(g.level)
	g.gold += price
	g.level = 0
	g.item = itemName(0, g.rng.IntN(len(itemSuffixes)))

	var sb strings.Builder
	fmt.Fprintf(&sb, "〖검 판매〗\n")
	fmt.Fprintf(&sb, "💰 획득 골드: +%sG\n", commas(price))
	fmt.Fprintf(&sb, "💰 남은 골드: %sG\n", commas(g.gold))
	fmt.Fprintf(&sb, "🗡️ 새로운 검 획득: [+0] %s", g.item)
	return bubble{text: sb.String(), height: 70}
}

func (g *Game) profile() bubble {
	var sb strings.Builder
	fmt.Fprintf(&sb, "⚔️ [프로필]\n")
	fmt.Fprintf(&sb, "● 이름: @%s\n", g.cfg.Player)
	fmt.Fprintf(&sb, "● 보유 골드: %s G\n", commas(g.gold))
	fmt.Fprintf(&sb, "● 보유 검: [+%d] %s", g.level, g.item)
	return bubble{text: sb.String(), height: 90}
}

var (
	itemPrefixes = []string{"낡은", "단단한", "빛나는", "불꽃의", "영원한", "전설의"}
	itemSuffixes = []string{"단검", "장검", "몽둥이", "혈맥의 검", "근원 검"}
)

func itemName(level, pick int) string {
	p := itemPrefixes[min(level/4, len(itemPrefixes)-1)]
	return p + " " + itemSuffixes[pick%len(itemSuffixes)]
}

func every(n, count int) bool {
	return n > 0 && count%n == 0
}

// commas formats n with thousands separators, as the bot does.
func commas(n int64) string {
	s := fmt.Sprint(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
