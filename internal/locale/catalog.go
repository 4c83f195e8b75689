package locale

var catalog = map[string]Messages{
	"en": {
		Direction: LTR,
		MagicLink: Templates{
			Title:       "Login to {{.appName}}:",
			Alternative: "Or copy this link:",
			Expiry:      "Expires in {{.minutes}} minutes",
			SecurityTip: "Do not share this link",
			Context: ContextTemplates{
				Location:      "Location: {{.location}}",
				Device:        "Device: {{.device}}",
				LastLogin:     "Last login: {{.lastLogin}}",
				RequestSource: "Request from: {{.requestSource}}",
			},
		},
	},
	"es": {
		Direction: LTR,
		MagicLink: Templates{
			Title:       "Haz clic en este enlace para iniciar sesión en {{.appName}}:",
			Alternative: "O copia y pega este enlace en tu navegador:",
			Expiry:      "Este enlace caducará en {{.minutes}} minutos.",
			SecurityTip: "No compartas este enlace",
			Context: ContextTemplates{
				Location:      "Ubicación: {{.location}}",
				Device:        "Dispositivo: {{.device}}",
				LastLogin:     "Último acceso: {{.lastLogin}}",
				RequestSource: "Solicitud desde: {{.requestSource}}",
			},
		},
	},
	"fr": {
		Direction: LTR,
		MagicLink: Templates{
			Title:       "Cliquez sur ce lien pour vous connecter à {{.appName}} :",
			Alternative: "Ou copiez et collez ce lien dans votre navigateur :",
			Expiry:      "Ce lien expirera dans {{.minutes}} minutes.",
			SecurityTip: "Ne partagez pas ce lien",
			Context: ContextTemplates{
				Location:      "Emplacement : {{.location}}",
				Device:        "Appareil : {{.device}}",
				LastLogin:     "Dernière connexion : {{.lastLogin}}",
				RequestSource: "Demande depuis : {{.requestSource}}",
			},
		},
	},
	"ar": {
		Direction: RTL,
		MagicLink: Templates{
			Title:       "تسجيل الدخول إلى {{.appName}}:",
			Alternative: "أو انسخ هذا الرابط:",
			Expiry:      "تنتهي الصلاحية خلال {{.minutes}} دقيقة",
			SecurityTip: "لا تشارك هذا الرابط",
			Context: ContextTemplates{
				Location:      "الموقع: {{.location}}",
				Device:        "الجهاز: {{.device}}",
				LastLogin:     "آخر تسجيل دخول: {{.lastLogin}}",
				RequestSource: "مصدر الطلب: {{.requestSource}}",
			},
		},
	},
	"ja": {
		Direction: LTR,
		MagicLink: Templates{
			Title:       "{{.appName}}にログイン:",
			Alternative: "またはこのリンクをコピーしてください:",
			Expiry:      "{{.minutes}}分後に期限切れになります",
			SecurityTip: "このリンクを共有しないでください",
			Context: ContextTemplates{
				Location:      "場所: {{.location}}",
				Device:        "デバイス: {{.device}}",
				LastLogin:     "前回のログイン: {{.lastLogin}}",
				RequestSource: "リクエスト元: {{.requestSource}}",
			},
		},
	},
	"ko": {
		Direction: LTR,
		MagicLink: Templates{
			Title:       "{{.appName}}에 로그인:",
			Alternative: "또는 이 링크를 복사하세요:",
			Expiry:      "{{.minutes}}분 후 만료됩니다",
			SecurityTip: "이 링크를 공유하지 마세요",
			Context: ContextTemplates{
				Location:      "위치: {{.location}}",
				Device:        "기기: {{.device}}",
				LastLogin:     "마지막 로그인: {{.lastLogin}}",
				RequestSource: "요청 출처: {{.requestSource}}",
			},
		},
	},
	"pt": {
		Direction: LTR,
		MagicLink: Templates{
			Title:       "Entrar no {{.appName}}:",
			Alternative: "Ou copie este link:",
			Expiry:      "Expira em {{.minutes}} minutos",
			SecurityTip: "Não compartilhe este link",
			Context: ContextTemplates{
				Location:      "Localização: {{.location}}",
				Device:        "Dispositivo: {{.device}}",
				LastLogin:     "Último acesso: {{.lastLogin}}",
				RequestSource: "Solicitado de: {{.requestSource}}",
			},
		},
	},
	"ru": {
		Direction: LTR,
		MagicLink: Templates{
			Title:       "Вход в {{.appName}}:",
			Alternative: "Или скопируйте эту ссылку:",
			Expiry:      "Истекает через {{.minutes}} минут",
			SecurityTip: "Не делитесь этой ссылкой",
			Context: ContextTemplates{
				Location:      "Местоположение: {{.location}}",
				Device:        "Устройство: {{.device}}",
				LastLogin:     "Последний вход: {{.lastLogin}}",
				RequestSource: "Источник запроса: {{.requestSource}}",
			},
		},
	},
	"zh": {
		Direction: LTR,
		MagicLink: Templates{
			Title:       "登录到{{.appName}}:",
			Alternative: "或复制此链接:",
			Expiry:      "{{.minutes}}分钟后过期",
			SecurityTip: "请勿分享此链接",
			Context: ContextTemplates{
				Location:      "位置: {{.location}}",
				Device:        "设备: {{.device}}",
				LastLogin:     "上次登录: {{.lastLogin}}",
				RequestSource: "请求来源: {{.requestSource}}",
			},
		},
	},
}
