package collector

// Default prompt templates. A file of the same key under the prompt dir
// overrides these at runtime.

const defaultExtractNamePrompt = `Analisis nama dari jawaban pelanggan berikut:
"{message}"

Tugas:
1. Ekstrak NAMA lengkap
2. Tentukan apakah ini nama PERUSAHAAN atau nama PERSONAL
3. Tentukan GENDER (hanya untuk personal)

Kriteria PERUSAHAAN (is_company: true):
- Ada inisiator: PT, CV, UD, Yayasan, Toko, Koperasi
- Pola nama bisnis: mengandung kata seperti Jaya, Sejahtera, Mandiri, Abadi, Sentosa, Makmur, Karya

Kriteria PERSONAL (is_company: false):
- Nama orang Indonesia: Budi, Ahmad, Siti, Dewi, dll

Tips gender (untuk personal):
- Male: Budi, Ahmad, Andi, Rudi, Agus, Bambang, Dedi, Eko, dll
- Female: Siti, Ani, Dewi, Rina, Sri, Fitri, Wati, Yanti, dll
- Unknown: jika perusahaan atau tidak yakin

Contoh:
- "PT Maju Jaya" -> is_company: true
- "Budi Santoso" -> is_company: false, gender: male
- "Siti Aminah" -> is_company: false, gender: female

Jawab HANYA JSON:
{
  "name": "nama lengkap yang diekstrak",
  "gender": "male/female/unknown",
  "is_company": true/false,
  "confidence": "high/medium/low"
}`

const defaultExtractProductPrompt = `Ekstrak informasi produk dari jawaban pelanggan:
"{message}"

Produk yang valid: F57A, F90A

Cari pola seperti:
- "F57A" atau "f57a" atau "F 57 A"
- "F90A" atau "f90a" atau "F 90 A"
- "tipe F57A" atau "model F90A"

Jawab HANYA JSON:
{
  "product": "F57A/F90A/none",
  "confidence": "high/medium/low"
}`

const defaultValidateAddressPrompt = `Analisis alamat berikut dan tentukan:
1. Apakah alamat ini LENGKAP untuk kunjungan teknisi?
2. Apakah alamat ini berada di JABODETABEK?

Alamat: "{address}"

Kriteria alamat lengkap (MINIMAL):
- Ada nama jalan/gang/komplek
- Ada nomor rumah/blok ATAU patokan jelas (KM, dekat landmark, dll)
- Ada nama kota/wilayah (Jakarta Selatan, Depok, Tangerang, Bekasi, Bogor, dll)

PENTING:
- "KM" (kilometer) adalah patokan yang VALID
- Kelurahan/kecamatan adalah OPSIONAL
- Jika ada nama kota, itu SUDAH CUKUP

Contoh alamat LENGKAP:
- "Jl. Sudirman 123, Jakarta Selatan"
- "Jl. Raya Bogor KM 25, Depok"
- "Komplek Griya Asri, Bekasi"

Contoh alamat TIDAK LENGKAP:
- "Jl. Sudirman" (tidak ada kota)
- "Jakarta Selatan" (tidak ada jalan)

Jawab HANYA JSON:
{
  "is_complete": true/false,
  "is_jabodetabek": true/false,
  "missing_info": ["list info yang kurang jika tidak lengkap"],
  "confidence": "high/medium/low",
  "reason": "penjelasan singkat"
}`

const defaultOffTopicPrompt = `Analisis apakah pesan pelanggan ini adalah jawaban untuk data collection atau pertanyaan lain.

Pesan: "{message}"

Konteks: Sedang dalam proses pengumpulan data (nama, produk, alamat).
Field yang masih kurang: {next_field}

Klasifikasi:
- "data_answer": Jika pesan berisi jawaban untuk data (nama/produk/alamat)
- "question": Jika pesan berisi pertanyaan tentang produk/layanan
- "complaint": Jika pesan berisi keluhan baru
- "chitchat": Jika pesan berisi obrolan biasa

Jawab HANYA JSON:
{
  "type": "data_answer/question/complaint/chitchat",
  "confidence": "high/medium/low",
  "should_answer_first": true/false
}`

const defaultCompletionPrompt = `Generate pesan penutup setelah data lengkap dikumpulkan.

Data pelanggan:
- Nama: {name}
- Produk: {product}
- Alamat: {address}
- Lokasi: {region}

Aturan:
- Ucapkan terima kasih
- Konfirmasi data sudah diterima
- Informasikan teknisi akan menghubungi
- Maksimal 2-3 kalimat
- Jangan gunakan tanda tanya
- Gunakan nama lengkap sesuai yang diberikan (sudah termasuk sapaan jika perlu)

Contoh: "Terima kasih {name}. Data sudah kami terima. Teknisi kami akan segera menghubungi untuk jadwal kunjungan."`

const defaultIncompleteAddressPrompt = `Generate pesan untuk memberitahu pelanggan bahwa alamat kurang lengkap.

Info yang kurang: {missing}
Sapaan: {salutation}

Aturan:
- Sopan dan tidak menyalahkan
- Jelaskan apa yang kurang
- Minta pelanggan melengkapi
- Maksimal 2-3 kalimat

Contoh: "Maaf {salutation}, alamatnya masih kurang lengkap. Bisa ditambahkan {missing}nya? Supaya teknisi kami bisa sampai dengan tepat."`

const defaultReturnToDataPrompt = `Generate pesan untuk mengajak pelanggan kembali ke pengisian data.

Sapaan: {salutation}
Data yang masih kurang: {field}

Aturan:
- Sangat halus dan tidak memaksa
- Tunjukkan empati
- Ajak kembali ke pengisian data
- Maksimal 2 kalimat

Contoh: "Baik {salutation}, saya mengerti. Sebelumnya, boleh kita lanjutkan pengisian {field}nya dulu?"`
