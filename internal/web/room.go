package web

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// RoomPage renders a room's status and reloads itself from the room's
// websocket on every change.
func RoomPage(view RoomView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(pageHead(view.Title + " · " + view.Code))
		b.WriteString(`    <main class="shell room" style="--accent: ` + esc(view.AccentColor) + `">
      <header class="hero">
        <span class="tag">` + esc(view.ThemeEmoji) + " " + esc(view.Code) + `</span>
        <h1>` + esc(view.Title) + `</h1>
`)
		if view.Tagline != "" {
			b.WriteString(`        <p>` + esc(view.Tagline) + "</p>\n")
		}
		b.WriteString("      </header>\n\n")

		b.WriteString(`      <section class="panel status">` + "\n")
		switch view.Status {
		case "lobby":
			b.WriteString("        <h2>Waiting for players</h2>\n")
		case "finished":
			b.WriteString("        <h2>Game over</h2>\n")
			if view.RematchCode != "" {
				b.WriteString(`        <p><a href="/rooms/` + esc(view.RematchCode) + `">Rematch in room ` + esc(view.RematchCode) + "</a></p>\n")
			}
		default:
			b.WriteString("        <h2>" + esc(view.RoundLabel) + ": " + esc(view.RoundTitle) + "</h2>\n")
			b.WriteString(`        <p>Phase <strong>` + esc(view.Phase) + `</strong> since ` + formatTime(view.PhaseStarted) + "</p>\n")
		}
		b.WriteString("      </section>\n\n")

		b.WriteString(`      <section class="panel">
        <h2>Players</h2>
        <ol class="scores">
`)
		for _, player := range view.Players {
			classes := []string{}
			if player.IsHost {
				classes = append(classes, "host")
			}
			if !player.IsConnected {
				classes = append(classes, "away")
			}
			if player.IsSpectator {
				classes = append(classes, "spectator")
			}
			b.WriteString(`          <li class="` + strings.Join(classes, " ") + `">` + esc(player.Emoji) + " " + esc(player.Name) +
				` <span class="score">` + itoa(player.Score) + "</span></li>\n")
		}
		b.WriteString(`        </ol>
      </section>
    </main>

    <script>
      const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws/rooms/` + esc(view.Code) + `");
      let first = true;
      ws.addEventListener("message", () => {
        if (first) {
          first = false;
          return;
        }
        window.location.reload();
      });
    </script>
`)
		b.WriteString(pageTail)
		_, err := io.WriteString(w, b.String())
		return err
	})
}
