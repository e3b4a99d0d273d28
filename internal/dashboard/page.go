package dashboard

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>hfgo dashboard</title>
<style>
:root {
  --bg: #0d0d0d;
  --panel: #1a1a2e;
  --cyan: #00ffff;
  --magenta: #ff00ff;
  --green: #00ff88;
  --red: #ff0055;
  --orange: #ff8800;
  --dim: #666666;
}
* { box-sizing: border-box; }
body {
  margin: 0;
  background: var(--bg);
  color: #e0e0e0;
  font-family: 'SF Mono', Consolas, monospace;
  padding: 24px;
}
h1 {
  color: var(--cyan);
  font-size: 20px;
  letter-spacing: 2px;
}
.grid {
  display: grid;
  grid-template-columns: repeat(auto-fit, minmax(180px, 1fr));
  gap: 12px;
  margin-bottom: 24px;
}
.card {
  background: var(--panel);
  border: 1px solid var(--cyan);
  border-radius: 6px;
  padding: 14px 16px;
}
.card .label {
  color: var(--dim);
  font-size: 11px;
  text-transform: uppercase;
}
.card .value {
  font-size: 26px;
  font-weight: bold;
  color: #fff;
}
.card.crashes .value { color: var(--red); }
.card.state .value { color: var(--green); font-size: 18px; }
table {
  width: 100%;
  border-collapse: collapse;
  background: var(--panel);
  border-radius: 6px;
  overflow: hidden;
}
th, td {
  text-align: left;
  padding: 8px 12px;
  border-bottom: 1px solid #2a2a3e;
  font-size: 13px;
}
th { color: var(--dim); text-transform: uppercase; font-size: 11px; }
tr.verified td.sig { color: var(--orange); }
tr.blacklisted td.sig { color: var(--dim); }
#conn { font-size: 12px; color: var(--dim); }
</style>
</head>
<body>
<h1>⚡ hfgo</h1>
<div id="conn">connecting...</div>
<div class="grid">
  <div class="card state"><div class="label">state</div><div class="value" id="v-state">-</div></div>
  <div class="card"><div class="label">mutations</div><div class="value" id="v-mutations">0</div></div>
  <div class="card"><div class="label">corpus</div><div class="value" id="v-corpus">0</div></div>
  <div class="card"><div class="label">queue</div><div class="value" id="v-queue">0</div></div>
  <div class="card crashes"><div class="label">crashes</div><div class="value" id="v-crashes">0</div></div>
  <div class="card crashes"><div class="label">unique</div><div class="value" id="v-unique">0</div></div>
  <div class="card"><div class="label">timeouts</div><div class="value" id="v-timeouts">0</div></div>
</div>
<table>
  <thead><tr><th>time</th><th>signal</th><th>pc</th><th>artifact</th><th>status</th></tr></thead>
  <tbody id="crash-rows"></tbody>
</table>
<script>
` + dashboardJS + `
</script>
</body>
</html>`

const dashboardJS = `
const stateNames = {0: "unset", 1: "static", 2: "dynamic-pre", 3: "dynamic-main"};

function applySnapshot(snap) {
  document.getElementById('v-state').textContent = stateNames[snap.State] || "unset";
  document.getElementById('v-mutations').textContent = snap.MutationsCnt;
  document.getElementById('v-corpus').textContent = snap.CorpusSize;
  document.getElementById('v-queue').textContent = snap.QueueSize;
  document.getElementById('v-crashes').textContent = snap.CrashesCnt;
  document.getElementById('v-unique').textContent = snap.UniqueCrashesCnt;
  document.getElementById('v-timeouts').textContent = snap.TimeoutedCnt;
}

function prependCrash(ev) {
  const rows = document.getElementById('crash-rows');
  const tr = document.createElement('tr');
  if (ev.blacklisted) tr.className = 'blacklisted';
  else if (ev.verified) tr.className = 'verified';
  const t = new Date(ev.timestamp).toLocaleTimeString();
  tr.innerHTML =
    '<td>' + t + '</td>' +
    '<td class="sig">' + ev.signal + '</td>' +
    '<td>' + ev.pc + '</td>' +
    '<td>' + ev.artifactId + '</td>' +
    '<td>' + (ev.blacklisted ? 'blacklisted' : (ev.verified ? 'verified' : 'unverified')) + '</td>';
  rows.insertBefore(tr, rows.firstChild);
  while (rows.children.length > 200) rows.removeChild(rows.lastChild);
}

function connect() {
  const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
  const ws = new WebSocket(proto + '//' + location.host + '/ws');
  const conn = document.getElementById('conn');

  ws.onopen = () => { conn.textContent = 'connected'; };
  ws.onclose = () => { conn.textContent = 'disconnected, retrying...'; setTimeout(connect, 2000); };
  ws.onerror = () => ws.close();
  ws.onmessage = (evt) => {
    const msg = JSON.parse(evt.data);
    if (msg.type === 'snapshot') applySnapshot(msg.data);
    else if (msg.type === 'crash') prependCrash(msg.data);
  };
}

connect();
`
