package web

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

func pageHead(title string) string {
	return `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>` + esc(title) + `</title>
    <link rel="stylesheet" href="` + assetPath("/static/styles.css") + `"/>
  </head>
  <body>
`
}

const pageTail = `  </body>
</html>
`

func Home(data HomeData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(pageHead("Party Play"))
		b.WriteString(`    <main class="shell">
      <header class="hero">
        <span class="tag">Party Play</span>
        <h1>Tiny games. Big rooms.</h1>
        <p>Start a room from the game library or join one with its code.</p>
      </header>

      <section class="panel">
        <h2>Start a room</h2>
        <form id="createForm" class="join-form">
          <select name="gameId" required>
`)
		for _, option := range data.Games {
			b.WriteString(`            <option value="` + esc(option.ID) + `">` + esc(option.Title) + "</option>\n")
		}
		b.WriteString(`          </select>
          <input name="name" placeholder="Your name" autocomplete="name" required/>
          <button type="submit" class="primary">Create room</button>
        </form>
        <div id="createResult" class="result"></div>
      </section>

      <section class="panel">
        <h2>Join a room</h2>
        <form id="joinForm" class="join-form">
          <input name="code" placeholder="Room code" autocomplete="off" required/>
          <input name="name" placeholder="Your name" autocomplete="name" required/>
          <button type="submit" class="secondary">Join room</button>
        </form>
        <div id="joinResult" class="result"></div>
      </section>

      <section class="panel">
        <h2>Live rooms</h2>
`)
		if len(data.Rooms) == 0 {
			b.WriteString(`        <p class="muted">No rooms yet.</p>` + "\n")
		} else {
			b.WriteString(`        <ul class="rooms">` + "\n")
			for _, summary := range data.Rooms {
				b.WriteString(`          <li><a href="/rooms/` + esc(summary.Code) + `">` + esc(summary.Code) + `</a> ` +
					esc(summary.Title) + ` <span class="muted">` + esc(summary.Status) + ", " + itoa(summary.Players) + " players</span></li>\n")
			}
			b.WriteString("        </ul>\n")
		}
		b.WriteString(`      </section>
    </main>

    <script>
      const session = localStorage.getItem("partyPlaySession") || crypto.randomUUID();
      localStorage.setItem("partyPlaySession", session);

      async function post(path, body) {
        const res = await fetch(path, {
          method: "POST",
          headers: { "Content-Type": "application/json", "X-Session-ID": session },
          body: JSON.stringify(body)
        });
        return { ok: res.ok, data: await res.json() };
      }

      document.getElementById("createForm").addEventListener("submit", async (event) => {
        event.preventDefault();
        const form = event.target;
        const result = document.getElementById("createResult");
        result.textContent = "Creating room...";
        const { ok, data } = await post("/api/rooms", { gameId: form.elements.gameId.value, name: form.elements.name.value.trim() });
        if (!ok) {
          result.textContent = data.error || "Failed to create room.";
          return;
        }
        window.location = "/rooms/" + data.snapshot.room.code;
      });

      document.getElementById("joinForm").addEventListener("submit", async (event) => {
        event.preventDefault();
        const form = event.target;
        const result = document.getElementById("joinResult");
        result.textContent = "Joining room...";
        const code = form.elements.code.value.trim();
        const { ok, data } = await post("/api/rooms/" + encodeURIComponent(code) + "/join", { name: form.elements.name.value.trim() });
        if (!ok) {
          result.textContent = data.error || "Failed to join room.";
          return;
        }
        window.location = "/rooms/" + data.snapshot.room.code;
      });
    </script>
`)
		b.WriteString(pageTail)
		_, err := io.WriteString(w, b.String())
		return err
	})
}
