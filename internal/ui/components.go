// Package ui renders the HTML surface: the gallery landing page and the
// per-object pages. Components are hand-written templ components over the
// data the core hands in; the core never embeds HTML itself.
package ui

import (
	"context"
	"embed"
	"fmt"
	"html"
	"io"

	"github.com/a-h/templ"
)

//go:embed assets/zip_icon.png
var assetsFS embed.FS

// ZipIcon is the placeholder thumbnail served for archive entries.
var ZipIcon = func() []byte {
	data, err := assetsFS.ReadFile("assets/zip_icon.png")
	if err != nil {
		panic(err)
	}
	return data
}()

const pageCSS = `:root{--bg:#fafafa;--fg:#111;--muted:#666;--card:#fff;--br:12px}
*{box-sizing:border-box} body{font-family:system-ui;margin:0;background:var(--bg);color:var(--fg)}
header{padding:16px 20px;border-bottom:1px solid #eee;background:#fff;position:sticky;top:0}
h1{font-size:18px;margin:0}
main{max-width:1100px;margin:0 auto;padding:20px}
.row{display:flex;gap:16px;flex-wrap:wrap}
.uploader{flex:1 1 360px;background:var(--card);border:2px dashed #ddd;border-radius:var(--br);padding:18px;min-height:140px;display:flex;flex-direction:column;justify-content:center;align-items:center}
.uploader.drag{border-color:#aaa;background:#f7f7f7}
.uploader input[type=file]{display:none}
.btn{display:inline-block;padding:10px 14px;border:1px solid #ddd;border-radius:10px;text-decoration:none;color:inherit}
.muted{color:var(--muted);font-size:14px}
.tabs{display:flex;gap:8px;margin-top:18px}
.tab{padding:6px 10px;border:1px solid #ddd;border-radius:8px;background:#fff;cursor:pointer}
.tab.active{background:#111;color:#fff;border-color:#111}
.grid{display:grid;grid-template-columns:repeat(auto-fill,minmax(180px,1fr));gap:14px;margin-top:14px}
.card{background:var(--card);border:1px solid #eee;border-radius:var(--br);overflow:hidden}
.thumb{aspect-ratio:1/1;display:block;width:100%;height:auto;object-fit:cover;background:#eee}
.caption{padding:6px 10px;font-size:12px;color:#333;white-space:nowrap;overflow:hidden;text-overflow:ellipsis}
.meta{padding:8px 10px;display:flex;justify-content:space-between;align-items:center}
.meta a{font-size:12px}
.badge{font-size:12px;color:#555}
progress{width:100%;height:10px;margin-top:8px}`

const galleryJS = `const grid = document.getElementById('grid');
const drop = document.getElementById('drop');
const fileInput = document.getElementById('file');
const prog = document.getElementById('prog');
const tabImg = document.getElementById('tab-img');
const tabFiles = document.getElementById('tab-files');
let current = 'images';

tabImg.onclick = () => { current = 'images'; tabImg.classList.add('active'); tabFiles.classList.remove('active'); fetchList(); };
tabFiles.onclick = () => { current = 'files'; tabFiles.classList.add('active'); tabImg.classList.remove('active'); fetchList(); };

async function fetchList() {
  const r = await fetch((current === 'images' ? '/list/images' : '/list/files') + '?limit=100');
  const data = await r.json();
  renderGrid(data.items);
}

function renderGrid(items) {
  grid.innerHTML = '';
  for (const it of items) {
    const card = document.createElement('div'); card.className = 'card';
    const img = document.createElement('img');
    img.className = 'thumb';
    img.loading = 'lazy';
    if (current === 'images') {
      img.src = it.raw_url;
      img.alt = it.id;
      card.append(img);
    } else {
      img.src = '/assets/zip_icon.png';
      img.alt = it.original_name || it.id;
      card.append(img);
      const cap = document.createElement('div');
      cap.className = 'caption';
      cap.title = it.original_name || it.id;
      cap.textContent = it.original_name || it.id;
      card.append(cap);
    }
    const meta = document.createElement('div'); meta.className = 'meta';
    const left = document.createElement('span'); left.className = 'badge'; left.textContent = timeAgo(new Date(it.created));
    const a = document.createElement('a'); a.href = it.page_url; a.target = '_blank'; a.textContent = 'Open';
    meta.append(left, a); card.append(meta); grid.append(card);
  }
}

function timeAgo(date) {
  const s = Math.floor((Date.now() - date.getTime()) / 1000);
  const i = Math.floor(s / 60);
  const h = Math.floor(i / 60);
  const d = Math.floor(h / 24);
  if (s < 60) return s + 's';
  if (i < 60) return i + 'm';
  if (h < 24) return h + 'h';
  return d + 'd';
}

function uploadFile(file) {
  const fd = new FormData(); fd.append('file', file);
  prog.style.display = 'block'; prog.value = 0;
  return new Promise((resolve, reject) => {
    const xhr = new XMLHttpRequest(); xhr.open('POST', '/upload');
    xhr.upload.onprogress = (e) => { if (e.lengthComputable) prog.value = (e.loaded / e.total) * 100; };
    xhr.onload = () => { prog.style.display = 'none'; prog.value = 0; if (xhr.status >= 200 && xhr.status < 300) resolve(JSON.parse(xhr.responseText)); else reject(xhr.responseText); };
    xhr.onerror = () => { prog.style.display = 'none'; reject('network error'); };
    xhr.send(fd);
  });
}

['dragenter','dragover'].forEach(ev => drop.addEventListener(ev, e => { e.preventDefault(); e.stopPropagation(); drop.classList.add('drag'); }));
['dragleave','drop'].forEach(ev => drop.addEventListener(ev, e => { e.preventDefault(); e.stopPropagation(); drop.classList.remove('drag'); }));
drop.addEventListener('drop', async (e) => { const f = e.dataTransfer.files; if (!f || !f.length) return; try { await uploadFile(f[0]); await fetchList(); } catch (err) { alert('Upload failed: ' + err); } });
fileInput.addEventListener('change', async () => { if (!fileInput.files || !fileInput.files.length) return; try { await uploadFile(fileInput.files[0]); fileInput.value=''; await fetchList(); } catch (err) { alert('Upload failed: ' + err); } });

fetchList();`

const detailCSS = `body{font-family:system-ui;margin:1rem} img{max-width:100%;height:auto;display:block;margin:0 auto} .wrap{max-width:900px;margin:0 auto} .meta{color:#666;font-size:.9em;margin:.5rem 0 1rem} a.button{display:inline-block;padding:.5rem .75rem;border:1px solid #ddd;border-radius:8px}`

// Layout renders a full HTML page with a title, inline CSS, and a body
// component.
func Layout(title string, css string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<!DOCTYPE html><html lang=\"en\"><head><meta charset=\"utf-8\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<title>"+html.EscapeString(title)+"</title>")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<style>"+css+"</style></head><body>")
		if err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		_, err = io.WriteString(w, "</body></html>")
		return err
	})
}

// GalleryPage renders the landing page: the upload dropzone plus the
// image/file tab grid, fed by the listing endpoints.
func GalleryPage(title string, maxMB int64) templ.Component {
	return Layout(title, pageCSS, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<header><h1>"+html.EscapeString(title)+"</h1></header><main>")
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "<div class='row'><div id='drop' class='uploader'>")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<p>Drop an image or file here, or <label for='file' class='btn'>choose one</label></p>")
		if err != nil {
			return err
		}
		limits := fmt.Sprintf("<p class='muted'>Images: JPG/PNG/GIF/WEBP &middot; Archives: ZIP/TAR/RAR/7Z &middot; max. %d MB</p>", maxMB)
		_, err = io.WriteString(w, limits)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<input id='file' type='file' /><progress id='prog' value='0' max='100' style='display:none'></progress></div></div>")
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "<div class='tabs'><button id='tab-img' class='tab active'>Images</button><button id='tab-files' class='tab'>Files</button></div>")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<div id='grid' class='grid'></div></main>")
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "<script>"+galleryJS+"</script>")
		return err
	}))
}

// ImagePage renders the detail page for a stored image.
func ImagePage(id string, rawURL string, remainingDays int) templ.Component {
	return Layout("Image "+id, detailCSS, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<div class='wrap'>")
		if err != nil {
			return err
		}
		meta := fmt.Sprintf("<p class='meta'>ID: %s &middot; (%d days remaining)</p>", html.EscapeString(id), remainingDays)
		_, err = io.WriteString(w, meta)
		if err != nil {
			return err
		}
		img := fmt.Sprintf("<img src='%s' alt='uploaded image'/>", html.EscapeString(rawURL))
		_, err = io.WriteString(w, img)
		if err != nil {
			return err
		}
		link := fmt.Sprintf("<p><a class='button' href='%s' download>Download</a></p></div>", html.EscapeString(rawURL))
		_, err = io.WriteString(w, link)
		return err
	}))
}

// FilePage renders the detail page for a stored archive.
func FilePage(id string, name string, sizeKB int64, rawURL string, remainingDays int) templ.Component {
	return Layout("File "+id, detailCSS, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<div class='wrap'>")
		if err != nil {
			return err
		}
		meta := fmt.Sprintf("<p class='meta'>ID: %s &middot; %s &middot; %d kB &middot; (%d days remaining)</p>",
			html.EscapeString(id), html.EscapeString(name), sizeKB, remainingDays)
		_, err = io.WriteString(w, meta)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<img src='/assets/zip_icon.png' alt='file icon'/>")
		if err != nil {
			return err
		}
		link := fmt.Sprintf("<p><a class='button' href='%s' download>Download</a></p></div>", html.EscapeString(rawURL))
		_, err = io.WriteString(w, link)
		return err
	}))
}
