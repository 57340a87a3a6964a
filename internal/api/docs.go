package api

// docsHTML renders the OpenAPI reference with a header strip naming the
// device and viewer surfaces that the reference cannot describe.
const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Vitals Relay API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    body { height: 100vh; margin: 0; display: flex; flex-direction: column; background: #0d1117; }
    .surfaces {
      display: flex; gap: 18px; align-items: center; padding: 8px 16px;
      border-bottom: 1px solid #30363d; color: #c9d1d9;
      font: 12px -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
    }
    .surfaces code { color: #7ee787; }
    .surfaces a { margin-left: auto; color: #58a6ff; text-decoration: none; }
    elements-api { flex: 1; min-height: 0; }
  </style>
</head>
<body>
  <nav class="surfaces">
    <span>Devices post readings to <code>POST /data</code> (JSON or CBOR)</span>
    <span>Viewers stream from <code>/ws</code> or <code>/api/stream</code></span>
    <a href="/docs/stream">Live stream protocol</a>
  </nav>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`
