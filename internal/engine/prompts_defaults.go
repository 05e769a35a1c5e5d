package engine

// Compiled-in prompt texts. Each can be overridden by a same-named .txt file
// in the prompts directory; the Library hot-reloads edits.

const defaultClassifyPrompt = `{session_header}

Kamu adalah intent classifier untuk CS Honeywell Electronic Air Cleaner (EAC).

PERCAKAPAN HARI INI:
{history}

INTENT AKTIF SAAT INI: {active_intent}

STEP SOP YANG SEDANG BERJALAN:
{active_step}

PESAN USER TERBARU: "{message}"

Intent yang tersedia: {intents}

Klasifikasikan pesan user. Jawab HANYA JSON valid dengan field PERSIS berikut:
{
  "has_greeting": true/false,
  "greeting_part": "bagian sapaan, atau string kosong",
  "issue_part": "bagian keluhan, atau string kosong",
  "intent": "mati/bau/bunyi/none",
  "category": "domain/chitchat/nonsense",
  "is_new_complaint": true/false,
  "additional_complaint": "mati/bau/bunyi/none"
}

ATURAN:
- "intent" adalah keluhan UTAMA pesan ini. Jika pesan hanya menjawab pertanyaan
  troubleshooting (iya/tidak/sudah/belum), intent = intent aktif.
- Jika ada intent aktif dan pesan menyebut keluhan BARU yang berbeda, isi
  "additional_complaint" dengan keluhan baru itu dan biarkan "intent" = intent aktif.
- "is_new_complaint" true hanya jika user jelas memulai keluhan baru.
- Sapaan saja tanpa keluhan: intent = none, has_greeting = true.
- Pertanyaan harga/garansi/teknisi tanpa keluhan: intent = none, category = domain.

CONTOH KASUS:
1. "EAC saya mati" -> {"has_greeting": false, "greeting_part": "", "issue_part": "EAC saya mati", "intent": "mati", "category": "domain", "is_new_complaint": true, "additional_complaint": "none"}
2. "halo kak" -> {"has_greeting": true, "greeting_part": "halo kak", "issue_part": "", "intent": "none", "category": "chitchat", "is_new_complaint": false, "additional_complaint": "none"}
3. (intent aktif: mati) "sudah saya cek covernya" -> {"has_greeting": false, "greeting_part": "", "issue_part": "sudah saya cek covernya", "intent": "mati", "category": "domain", "is_new_complaint": false, "additional_complaint": "none"}
4. (intent aktif: mati) "oh iya alatnya juga bunyi berisik" -> {"has_greeting": false, "greeting_part": "", "issue_part": "alatnya juga bunyi berisik", "intent": "mati", "category": "domain", "is_new_complaint": false, "additional_complaint": "bunyi"}`

const defaultGreetingPrompt = `User menyapa: "{greeting}"

Balas sapaan dengan ramah sebagai CS Honeywell, satu kalimat pendek, lalu
tanyakan ada yang bisa dibantu. Bahasa Indonesia santai, panggil "kak".
Jangan gunakan emoji. Jawab hanya kalimat balasannya.`

const defaultElaboratePrompt = `User menulis: "{message}"

Pesan ini belum jelas keluhannya. Minta user menjelaskan kendala alatnya lebih
detail, satu kalimat ramah, bahasa Indonesia santai, panggil "kak".
Jawab hanya kalimat balasannya.`

const defaultShortAnswerPrompt = `User bertanya di tengah troubleshooting: "{message}"

Jawab singkat satu kalimat sebagai CS Honeywell. Jika kamu tidak tahu jawaban
pastinya (harga, jadwal teknisi, garansi), bilang nanti tim kami bantu infokan.
Jangan menjanjikan angka atau tanggal. Jawab hanya kalimatnya.`

const defaultShortChitchatPrompt = `User bilang: "{message}"

Balas basa-basi ini dengan satu kalimat sangat pendek dan ramah.
Jawab hanya kalimatnya.`

const defaultAckRedirectPrompt = `User sedang troubleshooting kendala "{active}" tapi baru menyebut keluhan
tambahan "{additional}".

Buat SATU balasan singkat yang:
1. Mengakui keluhan tambahan itu sudah dicatat.
2. Mengajak fokus menyelesaikan kendala "{active}" dulu.
3. Diakhiri dengan pertanyaan ini persis: {question}

Bahasa Indonesia santai, panggil "kak". Jawab hanya balasannya.`
