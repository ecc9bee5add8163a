package main

// loginHTML is the login page template.
const loginHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>camswitch login</title>
<style>` + styleCSS + `</style>
</head>
<body>
<main class="card narrow">
<h1>camswitch <small>{{.Role}}</small></h1>
{{if .Error}}<p class="error">Invalid username or password</p>{{end}}
<form method="post" action="/login">
<input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
<label>Username <input name="username" autocomplete="username" required></label>
<label>Password <input name="password" type="password" autocomplete="current-password" required></label>
<button type="submit">Log in</button>
</form>
<footer>v{{.Version}} &middot; {{.Year}}</footer>
</main>
</body>
</html>`

// indexHTML is the operator panel template. It renders status pushed over
// /ws and sends panel commands back on the same socket.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>camswitch</title>
<style>` + styleCSS + `</style>
</head>
<body>
<main class="card">
<h1>camswitch <small>{{.Role}}</small> <a href="/logout">log out</a></h1>
<section id="controls">
<button data-cmd="engine/mode" data-body='{"automatic":true}'>Automatic</button>
<button data-cmd="engine/mode" data-body='{"automatic":false}'>Manual</button>
<button data-cmd="units/probe">Probe units</button>
<button data-cmd="notifications/webhook/test">Test webhook</button>
</section>
<p id="result"></p>
<pre id="status">connecting...</pre>
<footer>v{{.Version}} &middot; {{.Year}}</footer>
</main>
<script>
(function () {
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws;
  function connect() {
    ws = new WebSocket(proto + location.host + "/ws");
    ws.onmessage = function (ev) {
      var msg = JSON.parse(ev.data);
      if (msg.type === "status") {
        document.getElementById("status").textContent = JSON.stringify(msg, null, 2);
      } else {
        document.getElementById("result").textContent = JSON.stringify(msg);
      }
    };
    ws.onclose = function () { setTimeout(connect, 2000); };
  }
  document.querySelectorAll("[data-cmd]").forEach(function (b) {
    b.addEventListener("click", function () {
      var body = b.dataset.body ? JSON.parse(b.dataset.body) : undefined;
      ws.send(JSON.stringify({ type: b.dataset.cmd, data: body }));
    });
  });
  connect();
})();
</script>
</body>
</html>`

// styleCSS is shared by both pages.
const styleCSS = `
body { font-family: system-ui, sans-serif; background: #f3f4f6; margin: 0; }
.card { background: #fff; max-width: 960px; margin: 2rem auto; padding: 1.5rem; border-radius: 8px; }
.narrow { max-width: 360px; }
label { display: block; margin: .75rem 0; }
input { width: 100%; padding: .4rem; box-sizing: border-box; }
button { padding: .5rem 1rem; margin: .25rem .25rem .25rem 0; }
pre { background: #111827; color: #e5e7eb; padding: 1rem; overflow: auto; }
.error { color: #b91c1c; }
footer { color: #6b7280; font-size: .8rem; margin-top: 1rem; }
h1 small { font-size: .9rem; color: #6b7280; }
h1 a { font-size: .8rem; float: right; }
`
