// Package webhook — тип task "webhook": HTTP-запрос к внешнему API.
//
// Повторы описаны в таблице, а не в коде: action request выполняет запрос
// и сохраняет ответ в scope, evaluator response классифицирует его
// (2xx — ok; 408, 429, 5xx и сетевые ошибки — retry; остальное — fail).
//
// Inputs:
//
//	{
//	    "url": "https://api.example.com/hooks/deploy",
//	    "method": "POST",
//	    "headers": {"Authorization": "Bearer ..."},
//	    "body": {"version": "1.2.3"},
//	    "validate_ssl": true,
//	    "timeout_sec": 30
//	}
package webhook
