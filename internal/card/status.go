package card

import (
	"math/rand/v2"
	"strings"
)

// UnknownStatusText is shown for statuses without a list.
const UnknownStatusText = "Tidak diketahui"

var statusTexts = map[string][]string{
	"online": {
		"Terhubung",
		"Berselancar di Internet",
		"Online",
		"Aktif",
		"Masih Hidup",
		"Belum mati",
		"Belum ke-isekai",
		"Masih di Bumi",
		"Ada koneksi Internet",
		"Dar(l)ing",
		"Daring",
		"Bersama keluarga besar (Internet)",
		"Ngobrol",
		"Nge-meme bareng",
	},
	"idle": {
		"Halo kau di sana?",
		"Ketiduran",
		"Nyawa di pertanyakan",
		"Halo????",
		"Riajuu mungkin",
		"Idle",
		"Gak aktif",
		"Jauh dari keyboard",
		"Lagi baper bentar",
		"Nonton Anime",
		"Lupa matiin data",
		"Lupa disconnect wifi",
		"Bengong",
	},
	"dnd": {
		"Lagi riajuu bentar",
		"Pacaran (joudan desu)",
		"Mungkin tidur",
		"Memantau keadaan",
		"Jadi satpam",
		"Mata-mata jadinya sibuk",
		"Bos besar supersibuk",
		"Ogah di-spam",
		"Nonton Anime",
		"Nonton Dorama",
		"Sok sibuk",
		"Gangguin Mantan",
		"Ngestalk Seseorang",
		"Nge-roll gacha",
		"Do not disturb",
		"Jangan ganggu",
		"Rapat DPR",
		"Sedang merencanakan UU baru",
		"Dangdutan bareng polisi",
	},
	"offline": {
		"Mokad",
		"Off",
		"Tidak online",
		"Bosen hidup",
		"Dah di Isekai",
		"zzz",
		"Pura-pura off",
		"Invisible deng",
		"Memantau dari kejauhan",
		"Lagi comfy camping",
		"Riajuu selamanya",
		"Gak punya koneksi",
		"Gak ada sinyal",
		"Kuota habis",
	},
}

// StatusTexts returns the flavour texts for status, or nil.
func StatusTexts(status string) []string {
	return statusTexts[strings.ToLower(status)]
}

// RandomStatusText picks one flavour text for status using pick, or the
// global generator when pick is nil.
func RandomStatusText(status string, pick Picker) string {
	texts := StatusTexts(status)
	if len(texts) == 0 {
		return UnknownStatusText
	}
	if pick == nil {
		pick = rand.IntN
	}
	i := pick(len(texts))
	if i < 0 || i >= len(texts) {
		i = 0
	}
	return texts[i]
}
