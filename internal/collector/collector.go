// Package collector runs the data-collection sub-dialogue: once the
// troubleshooter escalates to pending, it gathers (name, product, address) in
// order and writes the results into the user's identity slots.
package collector

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/klarlabs/klar/internal/memory"
	"github.com/klarlabs/klar/internal/ollama"
	"github.com/klarlabs/klar/internal/prompts"
)

// Action values returned by Process.
const (
	ActionAskName             = "ask_name"
	ActionNameSavedAskNext    = "name_saved_ask_next"
	ActionAskProduct          = "ask_product"
	ActionInvalidProduct      = "invalid_product"
	ActionProductSavedAskNext = "product_saved_ask_next"
	ActionIncompleteAddress   = "incomplete_address"
	ActionComplete            = "complete"
	ActionOffTopic            = "off_topic"
	ActionUnknown             = "unknown"
)

// ValidProducts is the closed product set.
var ValidProducts = []string{"F57A", "F90A"}

// productPatterns maps canonical products to the shorthand variants customers
// actually type ("F-90", "tipe 57a"). Ordered so matching is deterministic.
var productPatterns = []struct {
	product  string
	variants []string
}{
	{"F57A", []string{"F57", "57A"}},
	{"F90A", []string{"F90", "90A"}},
}

var jabodetabekKeywords = []string{
	"jakarta", "bogor", "depok", "tangerang", "bekasi",
	"jkt", "jaktim", "jakbar", "jaksel", "jakut", "jakpus",
	"tangsel", "tangerang selatan", "bintaro", "serpong",
	"bsd", "gading serpong", "alam sutera", "karawaci",
	"cibubur", "cimanggis", "margonda", "sawangan",
	"cibinong", "sentul", "gunung putri", "cileungsi",
	"pondok gede", "jatiasih", "jatisampurna", "mustika jaya",
	"rawamangun", "kelapa gading", "pluit", "pantai indah kapuk",
	"pik", "sunter", "kemayoran", "menteng", "kuningan",
	"sudirman", "senayan", "kebayoran", "cilandak", "lebak bulus",
	"fatmawati", "pondok indah", "pesanggrahan",
}

var nonNameKeywords = []string{
	"saya", "atas", "nama", "pembelian", "kemarin", "adalah", "itu", "ini",
	"dari", "untuk", "dengan", "yang", "di", "ke", "pada", "oleh",
	"produk", "alamat", "serial", "nomor", "telepon", "hp", "wa",
}

var femaleNameKeywords = []string{
	"siti", "ani", "dewi", "rina", "sri", "fitri", "wati", "yanti", "lestari", "nurhaliza",
	"ayu", "bella", "citra", "diah", "endah", "farah", "gita", "hana", "indah", "julia",
	"kartika", "linda", "maya", "putri", "ratna", "sari", "tari", "utami",
	"vina", "wulan", "yuni", "zahra", "anggun", "cantika", "dina", "elsa", "nurul",
}

var maleNameKeywords = []string{
	"budi", "ahmad", "andi", "rudi", "agus", "bambang", "dedi", "eko", "hadi", "joko",
	"ade", "aditya", "arif", "bayu", "dani", "fajar", "hendra", "irwan", "jaya",
	"kurniawan", "lukman", "muhammad", "putra", "rahman", "santoso", "taufik",
	"usman", "wahyu", "yudi", "hidayat", "rizki", "fauzi", "hakim", "malik",
}

var (
	reF57A = regexp.MustCompile(`(?i)f\s*5\s*7\s*a`)
	reF90A = regexp.MustCompile(`(?i)f\s*9\s*0\s*a`)
)

// Result is the outcome of one collection turn.
type Result struct {
	Action      string
	Response    string
	IsComplete  bool
	DataUpdated map[string]any
	OffTopic    *OffTopicInfo
}

// OffTopicInfo describes why a turn did not advance the field.
type OffTopicInfo struct {
	MessageType       string // question, complaint, chitchat
	ShouldAnswerFirst bool
	MissingField      string
}

// State is the collection progress snapshot.
type State struct {
	Name          string
	Gender        string
	Product       string
	Address       string
	IsJabodetabek *bool
	IsComplete    bool
	NextField     string // "name", "product", "address", or ""
}

// Collector drives the sub-dialogue. LLM failures never stall collection:
// every extraction has a rule-based first pass and a deterministic fallback
// reply.
type Collector struct {
	llm     ollama.Generator
	store   *memory.Store
	prompts *prompts.Library
}

func New(llm ollama.Generator, store *memory.Store, lib *prompts.Library) *Collector {
	if lib == nil {
		lib = prompts.NewLibrary("")
	}
	return &Collector{llm: llm, store: store, prompts: lib}
}

// GetState reads the collection progress for uid.
func (c *Collector) GetState(uid string) State {
	id := c.store.GetIdentity(uid)
	st := State{
		Name:    id.Name,
		Gender:  id.Gender,
		Product: id.Product,
		Address: id.Address,
	}
	if id.Address != "" {
		v := IsJabodetabek(id.Address)
		st.IsJabodetabek = &v
	}
	st.IsComplete = id.Name != "" && id.Product != "" && id.Address != ""
	switch {
	case id.Name == "":
		st.NextField = "name"
	case id.Product == "":
		st.NextField = "product"
	case id.Address == "":
		st.NextField = "address"
	}
	return st
}

// IsJabodetabek reports whether an address falls inside the service region.
func IsJabodetabek(address string) bool {
	low := strings.ToLower(address)
	for _, kw := range jabodetabekKeywords {
		if strings.Contains(low, kw) {
			return true
		}
	}
	return false
}

// ValidateProduct canonicalizes input and matches it against the valid set,
// pattern variants included. ok=false means a re-prompt is needed.
func ValidateProduct(input string) (product string, ok bool) {
	clean := strings.ToUpper(strings.TrimSpace(input))
	clean = strings.NewReplacer(" ", "", "-", "", ".", "", ",", "").Replace(clean)

	for _, p := range ValidProducts {
		if clean == p {
			return p, true
		}
	}

	if strings.Contains(clean, "EAC") {
		if strings.Contains(clean, "90") {
			return "F90A", true
		}
		if strings.Contains(clean, "57") {
			return "F57A", true
		}
	}

	for _, pp := range productPatterns {
		for _, pat := range pp.variants {
			if strings.Contains(clean, pat) {
				return pp.product, true
			}
		}
	}
	return "", false
}

// NameExtraction is the result of name parsing.
type NameExtraction struct {
	Name       string
	Gender     string
	IsCompany  bool
	Confidence string
}

// ExtractName accepts short utterances directly and asks the LLM for the
// rest.
func (c *Collector) ExtractName(ctx context.Context, uid, message string) NameExtraction {
	clean := strings.TrimSpace(message)
	words := strings.Fields(clean)

	if len(words) >= 1 && len(words) <= 2 && !containsAny(words, nonNameKeywords) {
		name := titleWords(clean)
		return NameExtraction{
			Name:       name,
			Gender:     DetectGender(name),
			Confidence: "high",
		}
	}

	obj, _ := c.llm.GenerateJSON(ctx,
		"Kamu adalah ekstrator nama dan tipe entitas. Jawab HANYA JSON valid.",
		c.prompts.Render("extract_name", defaultExtractNamePrompt, map[string]string{"message": message}))

	out := NameExtraction{
		Name:       strField(obj, "name"),
		Gender:     strField(obj, "gender"),
		Confidence: strField(obj, "confidence"),
	}
	if out.Gender == "" {
		out.Gender = "unknown"
	}
	if out.Confidence == "" {
		out.Confidence = "low"
	}
	if b, ok := obj["is_company"].(bool); ok {
		out.IsCompany = b
	}
	return out
}

// DetectGender infers gender from a curated name-keyword list.
func DetectGender(name string) string {
	low := strings.ToLower(name)
	for _, kw := range femaleNameKeywords {
		if strings.Contains(low, kw) {
			return "female"
		}
	}
	for _, kw := range maleNameKeywords {
		if strings.Contains(low, kw) {
			return "male"
		}
	}
	return "unknown"
}

// ExtractProduct runs regex and substring passes first, the LLM last.
// Returns "" when no product could be identified.
func (c *Collector) ExtractProduct(ctx context.Context, uid, message string) string {
	upper := strings.NewReplacer(" ", "", "-", "", ".", "", ",", "").Replace(strings.ToUpper(message))
	for _, p := range ValidProducts {
		if strings.Contains(upper, p) {
			return p
		}
	}
	if reF57A.MatchString(message) {
		return "F57A"
	}
	if reF90A.MatchString(message) {
		return "F90A"
	}
	for _, pp := range productPatterns {
		for _, pat := range pp.variants {
			if strings.Contains(upper, pat) {
				return pp.product
			}
		}
	}

	obj, _ := c.llm.GenerateJSON(ctx,
		"Kamu adalah ekstrator produk. Jawab HANYA JSON valid.",
		c.prompts.Render("extract_product", defaultExtractProductPrompt, map[string]string{"message": message}))
	if p := strings.ToUpper(strField(obj, "product")); p != "" && p != "NONE" {
		if valid, ok := ValidateProduct(p); ok {
			return valid
		}
	}
	return ""
}

// AddressValidation is the outcome of address checking.
type AddressValidation struct {
	IsComplete    bool
	IsJabodetabek bool
	MissingInfo   []string
	Confidence    string
	Reason        string
}

// ValidateAddress scores the address on street/complex, number-or-marker, and
// city components; only ambiguous addresses reach the LLM.
func (c *Collector) ValidateAddress(ctx context.Context, uid, address string) AddressValidation {
	low := strings.ToLower(address)

	hasStreet := containsAnySub(low,
		"jl.", "jl ", "jalan", "gang", "gg.", "gg ", "raya", "street",
		"boulevard", "blvd", "avenue", "ave", "jln", "jln.")
	hasComplex := containsAnySub(low,
		"komplek", "kompleks", "perumahan", "perum", "cluster",
		"residence", "village", "town", "estate", "griya", "taman")
	hasNumberOrMarker := containsAnySub(low,
		"km ", "km.", "no.", "no ", "nomor", "blok", "rt ", "rt.",
		"rw ", "rw.", "rt/", "rw/", "#") || strings.ContainsAny(address, "0123456789")
	hasCity := containsAnySub(low,
		"jakarta", "bogor", "depok", "tangerang", "bekasi",
		"bandung", "surabaya", "medan", "semarang", "yogyakarta", "yogya", "jogja",
		"malang", "solo", "surakarta", "bali", "denpasar", "makassar", "palembang",
		"jaktim", "jakbar", "jaksel", "jakut", "jakpus",
		"tangsel", "bsd", "serpong", "karawaci",
		"cibubur", "cimanggis", "margonda", "sawangan", "cibinong")

	inRegion := IsJabodetabek(address)

	score := 0
	if hasStreet || hasComplex {
		score++
	}
	if hasNumberOrMarker {
		score++
	}
	if hasCity {
		score++
	}

	if score >= 3 {
		return AddressValidation{IsComplete: true, IsJabodetabek: inRegion, Confidence: "high"}
	}
	if score == 2 && hasCity && (hasStreet || hasComplex) {
		return AddressValidation{IsComplete: true, IsJabodetabek: inRegion, Confidence: "medium"}
	}
	if len(strings.Fields(address)) >= 5 && hasCity && (hasStreet || hasComplex) {
		return AddressValidation{IsComplete: true, IsJabodetabek: inRegion, Confidence: "medium"}
	}

	obj, _ := c.llm.GenerateJSON(ctx,
		"Kamu adalah validator alamat. Jawab HANYA JSON valid.",
		c.prompts.Render("validate_address", defaultValidateAddressPrompt, map[string]string{"address": address}))

	out := AddressValidation{
		IsJabodetabek: inRegion,
		Confidence:    "low",
	}
	if b, ok := obj["is_complete"].(bool); ok {
		out.IsComplete = b
	}
	if b, ok := obj["is_jabodetabek"].(bool); ok {
		out.IsJabodetabek = b
	}
	if reason := strField(obj, "reason"); reason != "" {
		out.Reason = reason
	}
	if conf := strField(obj, "confidence"); conf != "" {
		out.Confidence = conf
	}
	if list, ok := obj["missing_info"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				out.MissingInfo = append(out.MissingInfo, s)
			}
		}
	}
	return out
}

// Salutation derives the honorific for uid.
func (c *Collector) Salutation(uid string) string {
	switch c.store.GetIdentity(uid).Gender {
	case "male":
		return "Pak"
	case "female":
		return "Bu"
	default:
		return "Kak"
	}
}

// Question returns the prompt for a missing field.
func (c *Collector) Question(uid, field string) string {
	sal := c.Salutation(uid)
	switch field {
	case "name":
		return fmt.Sprintf("Baik %s, boleh tahu kemarin pembeliannya atas nama siapa?", sal)
	case "product":
		return fmt.Sprintf("Baik %s, untuk produknya F57A atau F90A?", sal)
	case "address":
		return fmt.Sprintf("Baik %s, boleh info alamat lengkapnya? Supaya kami bisa pastikan lokasinya.", sal)
	default:
		return fmt.Sprintf("Maaf %s, ada yang bisa saya bantu?", sal)
	}
}

// CompletionMessage builds the closing after all fields are captured. The
// LLM phrases it; on failure a fixed closing is used. Questions are stripped:
// the closing must not re-open the dialogue.
func (c *Collector) CompletionMessage(ctx context.Context, uid string) string {
	id := c.store.GetIdentity(uid)
	nameWithSal := id.Name
	if !id.IsCompany {
		nameWithSal = c.Salutation(uid) + " " + id.Name
	}
	region := "Luar Jabodetabek"
	if IsJabodetabek(id.Address) {
		region = "Jabodetabek"
	}

	fallback := fmt.Sprintf("Terima kasih %s. Data sudah kami terima. Teknisi kami akan segera menghubungi untuk jadwal kunjungan.", nameWithSal)

	msg, err := c.llm.Generate(ctx,
		"Kamu adalah CS Honeywell yang ramah dan profesional.",
		c.prompts.Render("completion_message", defaultCompletionPrompt, map[string]string{
			"name":    nameWithSal,
			"product": id.Product,
			"address": id.Address,
			"region":  region,
		}), 0.7)
	if err != nil || strings.TrimSpace(msg) == "" {
		return fallback
	}
	msg = strings.TrimSpace(msg)
	if i := strings.Index(msg, "?"); i >= 0 {
		msg = strings.TrimSpace(msg[:i]) + "."
	}
	return msg
}

// checkOffTopic decides whether the utterance is a data answer or a
// digression. Short answers, product mentions, and address-looking text are
// always treated as data answers without an LLM call.
func (c *Collector) checkOffTopic(ctx context.Context, uid, message string, st State) *OffTopicInfo {
	clean := strings.TrimSpace(message)
	if len(strings.Fields(clean)) <= 5 && !strings.Contains(clean, "?") {
		return nil
	}
	upper := strings.ReplaceAll(strings.ToUpper(clean), " ", "")
	for _, p := range ValidProducts {
		if strings.Contains(upper, p) {
			return nil
		}
	}
	if containsAnySub(strings.ToLower(clean),
		"jalan", "jl.", "jl ", "komplek", "gang", "gg.", "rt", "rw", "kelurahan", "kecamatan") {
		return nil
	}

	obj, _ := c.llm.GenerateJSON(ctx,
		"Kamu adalah classifier pesan. Jawab HANYA JSON valid.",
		c.prompts.Render("collection_off_topic", defaultOffTopicPrompt, map[string]string{
			"message":    message,
			"next_field": st.NextField,
		}))

	msgType := strField(obj, "type")
	if msgType == "" || msgType == "data_answer" {
		return nil
	}
	answerFirst, _ := obj["should_answer_first"].(bool)
	return &OffTopicInfo{
		MessageType:       msgType,
		ShouldAnswerFirst: answerFirst,
		MissingField:      st.NextField,
	}
}

// Process handles one collection turn for uid.
func (c *Collector) Process(ctx context.Context, uid, message string) Result {
	st := c.GetState(uid)

	if st.IsComplete {
		return Result{
			Action:     ActionComplete,
			Response:   c.CompletionMessage(ctx, uid),
			IsComplete: true,
		}
	}

	if off := c.checkOffTopic(ctx, uid, message, st); off != nil {
		return Result{Action: ActionOffTopic, OffTopic: off}
	}

	switch st.NextField {
	case "name":
		return c.processName(ctx, uid, message)
	case "product":
		return c.processProduct(ctx, uid, message)
	case "address":
		return c.processAddress(ctx, uid, message)
	}

	return Result{
		Action:   ActionUnknown,
		Response: fmt.Sprintf("Baik %s, ada yang bisa saya bantu?", c.Salutation(uid)),
	}
}

func (c *Collector) processName(ctx context.Context, uid, message string) Result {
	extracted := c.ExtractName(ctx, uid, message)
	if extracted.Name == "" || (extracted.Confidence != "high" && extracted.Confidence != "medium") {
		return Result{
			Action:   ActionAskName,
			Response: fmt.Sprintf("Maaf %s, boleh diulang namanya?", c.Salutation(uid)),
		}
	}

	c.store.SetName(uid, extracted.Name)
	c.store.SetGender(uid, extracted.Gender)
	c.store.SetIsCompany(uid, extracted.IsCompany)
	updated := map[string]any{
		"name":       extracted.Name,
		"gender":     extracted.Gender,
		"is_company": extracted.IsCompany,
	}

	return c.advance(ctx, uid, ActionNameSavedAskNext, updated)
}

func (c *Collector) processProduct(ctx context.Context, uid, message string) Result {
	product := c.ExtractProduct(ctx, uid, message)
	if product == "" {
		return Result{
			Action:   ActionAskProduct,
			Response: fmt.Sprintf("Baik %s, untuk produknya F57A atau F90A?", c.Salutation(uid)),
		}
	}
	if _, ok := ValidateProduct(product); !ok {
		return Result{
			Action:   ActionInvalidProduct,
			Response: fmt.Sprintf("Maaf %s, produk yang tersedia hanya F57A atau F90A. Bisa dipastikan lagi?", c.Salutation(uid)),
		}
	}

	c.store.SetProduct(uid, product)
	return c.advance(ctx, uid, ActionProductSavedAskNext, map[string]any{"product": product})
}

func (c *Collector) processAddress(ctx context.Context, uid, message string) Result {
	validation := c.ValidateAddress(ctx, uid, message)
	if !validation.IsComplete {
		return Result{
			Action:   ActionIncompleteAddress,
			Response: c.incompleteAddressMessage(ctx, uid, validation.MissingInfo),
		}
	}

	c.store.SetAddress(uid, message)
	return c.advance(ctx, uid, ActionComplete, map[string]any{
		"address":        message,
		"is_jabodetabek": validation.IsJabodetabek,
	})
}

// advance re-reads state after a save and either asks the next field or
// completes.
func (c *Collector) advance(ctx context.Context, uid, savedAction string, updated map[string]any) Result {
	st := c.GetState(uid)
	if st.NextField != "" {
		return Result{
			Action:      savedAction,
			Response:    c.Question(uid, st.NextField),
			DataUpdated: updated,
		}
	}
	return Result{
		Action:      ActionComplete,
		Response:    c.CompletionMessage(ctx, uid),
		DataUpdated: updated,
		IsComplete:  true,
	}
}

func (c *Collector) incompleteAddressMessage(ctx context.Context, uid string, missing []string) string {
	sal := c.Salutation(uid)
	missingStr := "beberapa detail"
	if len(missing) > 0 {
		missingStr = strings.Join(missing, ", ")
	}
	fallback := fmt.Sprintf("Maaf %s, alamatnya masih kurang lengkap. Bisa ditambahkan %snya? Supaya teknisi kami bisa sampai dengan tepat.", sal, missingStr)

	msg, err := c.llm.Generate(ctx,
		"Kamu adalah CS Honeywell yang ramah dan profesional.",
		c.prompts.Render("incomplete_address", defaultIncompleteAddressPrompt, map[string]string{
			"missing":    missingStr,
			"salutation": sal,
		}), 0.7)
	if err != nil || strings.TrimSpace(msg) == "" {
		return fallback
	}
	return strings.TrimSpace(msg)
}

// ReturnToDataMessage nudges a digressing user back to the missing field.
func (c *Collector) ReturnToDataMessage(ctx context.Context, uid, missingField string) string {
	sal := c.Salutation(uid)
	fieldName := map[string]string{"name": "nama", "product": "produk", "address": "alamat"}[missingField]
	if fieldName == "" {
		fieldName = "data"
	}
	fallback := fmt.Sprintf("Baik %s, saya mengerti. Sebelumnya, boleh kita lanjutkan pengisian %snya dulu?", sal, fieldName)

	msg, err := c.llm.Generate(ctx,
		"Kamu adalah CS Honeywell yang ramah dan profesional.",
		c.prompts.Render("return_to_data", defaultReturnToDataPrompt, map[string]string{
			"salutation": sal,
			"field":      fieldName,
		}), 0.7)
	if err != nil || strings.TrimSpace(msg) == "" {
		return fallback
	}
	return strings.TrimSpace(msg)
}

func containsAny(words []string, set []string) bool {
	for _, w := range words {
		lw := strings.ToLower(w)
		for _, s := range set {
			if lw == s {
				return true
			}
		}
	}
	return false
}

func containsAnySub(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func titleWords(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func strField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}
