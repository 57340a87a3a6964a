package api

const streamDocsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Live Stream — Vitals Relay</title>
  <style>
    *, *::before, *::after { box-sizing: border-box; }
    body {
      margin: 0;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    nav {
      background: #161b22;
      border-bottom: 1px solid #30363d;
      padding: 0 24px;
      height: 48px;
      display: flex;
      align-items: center;
      gap: 24px;
    }
    nav .brand { font-weight: 600; font-size: 15px; color: #e6edf3; }
    nav .sep { color: #484f58; }
    main { max-width: 900px; margin: 0 auto; padding: 32px 16px 64px; }
    h1 { margin: 0 0 8px; font-size: 28px; font-weight: 600; color: #e6edf3; }
    h2 { margin: 40px 0 12px; font-size: 18px; color: #e6edf3; border-bottom: 1px solid #21262d; padding-bottom: 8px; }
    .endpoint {
      display: inline-flex;
      gap: 10px;
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 6px;
      padding: 10px 16px;
      margin-bottom: 16px;
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
    }
    .method { background: #1f6feb; color: #fff; font-weight: 700; font-size: 11px; padding: 2px 7px; border-radius: 4px; }
    pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 16px; overflow-x: auto; }
    table { border-collapse: collapse; width: 100%; margin-bottom: 20px; }
    th, td { border: 1px solid #30363d; padding: 8px 12px; text-align: left; }
    th { background: #161b22; color: #e6edf3; }
  </style>
</head>
<body>
<nav>
  <span class="brand">Vitals Relay</span>
  <span class="sep">/</span>
  <span>Live Stream</span>
  <a href="/docs">← REST API Docs</a>
</nav>
<main>
  <h1>Live Stream</h1>
  <p>Viewers receive every accepted reading as it arrives. On connect the server first sends the
  current snapshot and the full history, then live snapshots in ingestion order. Delivery is
  best effort: a viewer that falls behind misses updates rather than slowing anyone else down.</p>

  <h2>Events</h2>
  <table>
    <thead><tr><th>Type</th><th>Payload</th><th>When</th></tr></thead>
    <tbody>
      <tr><td><code>sensorData</code></td><td>Snapshot, as returned by <code>GET /api/latest</code></td><td>On connect, then after every accepted reading</td></tr>
      <tr><td><code>historyData</code></td><td>History, as returned by <code>GET /api/history</code></td><td>On connect</td></tr>
    </tbody>
  </table>

  <h2>WebSocket</h2>
  <div class="endpoint"><span class="method">GET</span><span>/ws</span></div>
  <p>Each text frame is a JSON envelope:</p>
  <pre><code>{"type":"sensorData","data":{"acceleration":0.98,"fallDetected":false,"heartRate":72,"spo2":98,"temperature":36.6,"latitude":null,"longitude":null,"satellites":null,"timestamp":1700000000000}}</code></pre>
  <pre><code>const ws = new WebSocket('ws://127.0.0.1:3000/ws');
ws.onmessage = (e) => {
  const msg = JSON.parse(e.data);
  if (msg.type === 'sensorData') render(msg.data);
  if (msg.type === 'historyData') plot(msg.data);
};</code></pre>

  <h2>Server-Sent Events</h2>
  <div class="endpoint"><span class="method">GET</span><span>/api/stream</span></div>
  <p>The event name is the type. Filter with <code>?events=sensorData</code>. A comment line is
  sent periodically to keep proxies from closing an idle stream.</p>
  <pre><code>event: sensorData
data: {"acceleration":0.98,"fallDetected":false,...}

: keepalive</code></pre>
  <pre><code>curl -N http://127.0.0.1:3000/api/stream
curl -N 'http://127.0.0.1:3000/api/stream?events=historyData'</code></pre>
</main>
</body>
</html>`
