package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Checklist Camera</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/monitor.css">
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">Checklist Camera</div>
            <span class="badge badge-secondary" id="status-badge">idle</span>
            <span class="badge badge-secondary" id="model-badge"></span>
        </div>

        <div class="grid">
            <div class="panel" style="grid-row: span 2;">
                <h2>Camera</h2>
                <div id="video-panel" style="position:relative;">
                    <img id="stream" src="/stream" alt="Annotated camera frames" style="width:100%;height:auto;">
                </div>
                <div class="controls">
                    <button type="button" id="btn-toggle">Start / Stop</button>
                    <button type="button" id="btn-capture">Capture</button>
                    <button type="button" id="btn-switch">Switch Camera</button>
                    <button type="button" id="btn-model">Change Model</button>
                    <button type="button" id="btn-reset">Reset</button>
                </div>
                <div class="controls">
                    <input type="file" id="upload-file" accept="image/*">
                    <button type="button" id="btn-upload-process">Detect Upload</button>
                    <button type="button" id="btn-upload-release">Remove Upload</button>
                </div>
                <p class="panel-subtitle" id="summary"></p>
            </div>

            <div class="panel">
                <h2>Checklist</h2>
                <form id="checklist-form">
                    <input type="text" id="checklist-label" placeholder="e.g. dog" autocomplete="off">
                    <button type="submit">Add</button>
                    <button type="button" id="btn-checklist-reset">Clear</button>
                </form>
                <ul id="checklist"></ul>
                <div id="notifications"></div>
            </div>

            <div class="panel">
                <h2>Timing</h2>
                <ul id="timing"></ul>
            </div>
        </div>
    </div>

    <script type="module">
        const $ = (id) => document.getElementById(id);

        async function post(path, body) {
            const opts = { method: 'POST' };
            if (body !== undefined) {
                opts.headers = { 'Content-Type': 'application/json' };
                opts.body = JSON.stringify(body);
            }
            const res = await fetch(path, opts);
            const data = await res.json().catch(() => ({}));
            if (!res.ok) {
                alert(data.error || res.statusText);
            }
            return data;
        }

        function renderChecklist(items) {
            const list = $('checklist');
            list.innerHTML = '';
            for (const item of items || []) {
                const li = document.createElement('li');
                li.textContent = item.label;
                li.className = item.matched ? 'matched' : '';
                list.appendChild(li);
            }
        }

        function renderTiming(t) {
            if (!t) return;
            const list = $('timing');
            list.innerHTML = '';
            for (const key of ['inference_time', 'total_time', 'overhead_time', 'model_fps', 'total_fps', 'overhead_fps']) {
                const li = document.createElement('li');
                li.textContent = t[key];
                list.appendChild(li);
            }
        }

        function renderStatus(status) {
            const loop = status.loop || {};
            $('status-badge').textContent = loop.state || 'idle';
            $('model-badge').textContent = loop.model ? 'Using ' + loop.model : '';
            renderChecklist(loop.checklist);
            renderTiming(loop.timing);
        }

        function notify(message) {
            const div = document.createElement('div');
            div.className = 'notification';
            div.textContent = message;
            $('notifications').prepend(div);
            while ($('notifications').children.length > 5) {
                $('notifications').lastChild.remove();
            }
        }

        const statusSource = new EventSource('/api/status/stream');
        statusSource.onmessage = (e) => renderStatus(JSON.parse(e.data));

        const eventSource = new EventSource('/api/events/stream');
        eventSource.onmessage = (e) => {
            const event = JSON.parse(e.data);
            switch (event.type) {
            case 'result':
                $('summary').textContent = event.result.summary || '';
                renderTiming(event.result.timing);
                break;
            case 'notification':
                notify(event.message);
                break;
            case 'state':
                $('status-badge').textContent = event.state;
                break;
            case 'error':
                notify(event.error);
                break;
            }
        };

        document.addEventListener('visibilitychange', () => {
            post('/api/visibility', { hidden: document.hidden });
        });

        $('btn-toggle').onclick = () => post('/api/live/toggle');
        $('btn-capture').onclick = () => post('/api/capture');
        $('btn-switch').onclick = () => post('/api/camera/switch');
        $('btn-model').onclick = async () => {
            const data = await post('/api/model/next');
            if (data.message) alert(data.message);
        };
        $('btn-reset').onclick = () => post('/api/reset');

        $('upload-file').onchange = async (e) => {
            const file = e.target.files[0];
            if (!file) return;
            const form = new FormData();
            form.append('image', file);
            const res = await fetch('/api/upload', { method: 'POST', body: form });
            if (!res.ok) {
                const data = await res.json().catch(() => ({}));
                alert(data.error || res.statusText);
            }
        };
        $('btn-upload-process').onclick = () => post('/api/upload/process');
        $('btn-upload-release').onclick = () => fetch('/api/upload', { method: 'DELETE' });

        $('checklist-form').onsubmit = async (e) => {
            e.preventDefault();
            const data = await post('/api/checklist', { label: $('checklist-label').value });
            if (data.items) {
                renderChecklist(data.items);
                $('checklist-label').value = '';
            }
        };
        $('btn-checklist-reset').onclick = async () => {
            const data = await post('/api/checklist/reset');
            renderChecklist(data.items);
        };
    </script>
</body>
</html>
`
